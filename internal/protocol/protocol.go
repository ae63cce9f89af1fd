// Package protocol defines the channel wire format shared by the gateway
// and the execution backend.
//
// Every message is a websocket text frame carrying an Envelope:
//
//	{"event": "terminal_output", "data": {"session_id": "...", "output": "..."}}
//
// Payloads are keyed by session_id so one connection multiplexes every
// session. Unknown fields are ignored and optional fields are omitted.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event is a channel event name
type Event string

// Client -> backend
const (
	TerminalCreate Event = "terminal_create"
	TerminalInput  Event = "terminal_input"
	TerminalResize Event = "terminal_resize"
	TerminalClose  Event = "terminal_close"
	ExecuteTool    Event = "execute_tool"
)

// Backend -> client
const (
	TerminalOutput  Event = "terminal_output"
	TerminalCreated Event = "terminal_created"
	TerminalClosed  Event = "terminal_closed"
	TerminalError   Event = "terminal_error"
)

// Inbound reports whether e is emitted by the backend
func (e Event) Inbound() bool {
	switch e {
	case TerminalOutput, TerminalCreated, TerminalClosed, TerminalError:
		return true
	}
	return false
}

// Outbound reports whether e is emitted by the gateway
func (e Event) Outbound() bool {
	switch e {
	case TerminalCreate, TerminalInput, TerminalResize, TerminalClose, ExecuteTool:
		return true
	}
	return false
}

// Mode selects how the backend runs a tool
type Mode string

const (
	ModeGuided Mode = "guided"
	ModeDirect Mode = "direct"
)

// ParseMode validates a mode string. Empty selects guided.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeGuided:
		return ModeGuided, nil
	case ModeDirect:
		return ModeDirect, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// Envelope is one frame on the channel
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionRef is the payload of terminal_create, terminal_close,
// terminal_created and terminal_closed
type SessionRef struct {
	SessionID string `json:"session_id"`
	Rows      int    `json:"rows,omitempty"`
	Cols      int    `json:"cols,omitempty"`
}

type InputPayload struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type ResizePayload struct {
	SessionID string `json:"session_id"`
	Rows      int    `json:"rows"`
	Cols      int    `json:"cols"`
}

// ExecutePayload asks the backend to start a tool. When SessionID is set
// the backend must use it for the new terminal.
type ExecutePayload struct {
	Tool      string `json:"tool"`
	Mode      Mode   `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Cols      int    `json:"cols,omitempty"`
}

type OutputPayload struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// ErrorPayload reports a backend failure. SessionID is empty for
// connection level errors.
type ErrorPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

// Encode builds the wire form of event with payload
func Encode(event Event, payload any) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sonic.ConfigStd.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses one frame
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event")
	}
	return env, nil
}

// Bind decodes the envelope payload into v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := sonic.ConfigStd.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}
