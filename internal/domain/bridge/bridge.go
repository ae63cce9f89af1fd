// Package bridge translates session operations into channel events and
// routes inbound channel events to sessions.
//
// Inbound events are applied by a single goroutine in arrival order, so
// output for one session is rendered in the order the backend sent it.
// Output for a session that is not registered is dropped. A backend close
// tears the session down locally and is not acknowledged.
package bridge

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/domain/terminal"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"go.uber.org/zap"
)

// Sender delivers outbound events to the backend
type Sender interface {
	Send(ctx context.Context, event protocol.Event, payload any) error
}

// Sessions is the part of the registry the bridge drives
type Sessions interface {
	Get(id string) (*terminal.Session, bool)
	Write(id string, p []byte) bool
	Destroy(id string) error
}

// Presenter receives lifecycle changes for the terminal list
type Presenter interface {
	MarkActive(id string)
	Closed(id string)
}

// Direction labels event hooks
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Option configures a Bridge
type Option func(*Bridge)

// WithEventHook calls fn for every event sent or dispatched
func WithEventHook(fn func(Direction, protocol.Event)) Option {
	return func(b *Bridge) { b.onEvent = fn }
}

// WithDropHook calls fn whenever output for an unknown session is dropped
func WithDropHook(fn func()) Option {
	return func(b *Bridge) { b.onDrop = fn }
}

// Bridge connects the registry to the channel
type Bridge struct {
	sender    Sender
	sessions  Sessions
	presenter Presenter
	notifier  notify.Notifier
	logger    *zap.Logger
	onEvent   func(Direction, protocol.Event)
	onDrop    func()
}

// New creates a bridge
func New(sender Sender, sessions Sessions, presenter Presenter, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		sender:    sender,
		sessions:  sessions,
		presenter: presenter,
		notifier:  notifier,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Options returns registry options that forward keystrokes and resizes
// of a session to the backend
func (b *Bridge) Options(title string) terminal.Options {
	return terminal.Options{
		Title:    title,
		OnInput:  b.Input,
		OnResize: b.Resize,
	}
}

// AnnounceCreate emits terminal_create for a registered session
func (b *Bridge) AnnounceCreate(ctx context.Context, id string) error {
	s, ok := b.sessions.Get(id)
	if !ok {
		return fmt.Errorf("announce %s: session not registered", id)
	}
	size := s.Emulator().Size()
	return b.send(ctx, protocol.TerminalCreate, protocol.SessionRef{
		SessionID: id,
		Rows:      size.Rows,
		Cols:      size.Cols,
	})
}

// AnnounceExecute emits execute_tool for a registered session
func (b *Bridge) AnnounceExecute(ctx context.Context, id, tool string, mode protocol.Mode) error {
	s, ok := b.sessions.Get(id)
	if !ok {
		return fmt.Errorf("announce %s: session not registered", id)
	}
	size := s.Emulator().Size()
	return b.send(ctx, protocol.ExecuteTool, protocol.ExecutePayload{
		Tool:      tool,
		Mode:      mode,
		SessionID: id,
		Rows:      size.Rows,
		Cols:      size.Cols,
	})
}

// Input forwards keystrokes. A failed send raises an error notification.
func (b *Bridge) Input(id string, p []byte) {
	err := b.send(context.Background(), protocol.TerminalInput, protocol.InputPayload{
		SessionID: id,
		Input:     string(p),
	})
	if err != nil {
		b.logger.Warn("Input not delivered", zap.String("session_id", id), zap.Error(err))
		b.notifier.Raise(fmt.Sprintf("Input for %s not delivered: %v", id, err), notify.Error)
	}
}

// Resize forwards a dimension change. No debouncing is applied.
func (b *Bridge) Resize(id string, size emulator.Size) {
	err := b.send(context.Background(), protocol.TerminalResize, protocol.ResizePayload{
		SessionID: id,
		Rows:      size.Rows,
		Cols:      size.Cols,
	})
	if err != nil {
		b.logger.Debug("Resize not delivered", zap.String("session_id", id), zap.Error(err))
	}
}

// Close asks the backend to close id and tears the session down locally
// whether or not the request could be sent.
func (b *Bridge) Close(ctx context.Context, id string) error {
	sendErr := b.send(ctx, protocol.TerminalClose, protocol.SessionRef{SessionID: id})
	b.teardown(id)
	return sendErr
}

// Run dispatches frames until ctx is done or frames is closed
func (b *Bridge) Run(ctx context.Context, frames <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-frames:
			if !ok {
				return
			}
			b.Dispatch(env)
		}
	}
}

// Dispatch applies one inbound event
func (b *Bridge) Dispatch(env protocol.Envelope) {
	if !env.Event.Inbound() {
		b.logger.Debug("Ignoring event", zap.String("event", string(env.Event)))
		return
	}
	b.observe(Inbound, env.Event)

	switch env.Event {
	case protocol.TerminalOutput:
		var p protocol.OutputPayload
		if !b.bind(env, &p) {
			return
		}
		if !b.sessions.Write(p.SessionID, []byte(p.Output)) {
			b.logger.Debug("Dropped output for unknown session", zap.String("session_id", p.SessionID))
			if b.onDrop != nil {
				b.onDrop()
			}
		}

	case protocol.TerminalCreated:
		var p protocol.SessionRef
		if !b.bind(env, &p) {
			return
		}
		b.logger.Info("Terminal created", zap.String("session_id", p.SessionID))
		b.presenter.MarkActive(p.SessionID)

	case protocol.TerminalClosed:
		var p protocol.SessionRef
		if !b.bind(env, &p) {
			return
		}
		b.logger.Info("Terminal closed by backend", zap.String("session_id", p.SessionID))
		b.teardown(p.SessionID)

	case protocol.TerminalError:
		var p protocol.ErrorPayload
		if !b.bind(env, &p) {
			return
		}
		err := &errs.BackendError{SessionID: p.SessionID, Message: p.Error}
		b.logger.Warn("Backend error", zap.Error(err))
		b.notifier.Raise(p.Error, notify.Error)
	}
}

func (b *Bridge) teardown(id string) {
	if err := b.sessions.Destroy(id); err != nil {
		b.logger.Warn("Session teardown failed", zap.String("session_id", id), zap.Error(err))
	}
	b.presenter.Closed(id)
}

func (b *Bridge) bind(env protocol.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		b.logger.Warn("Malformed event", zap.String("event", string(env.Event)), zap.Error(err))
		return false
	}
	return true
}

func (b *Bridge) send(ctx context.Context, event protocol.Event, payload any) error {
	if err := b.sender.Send(ctx, event, payload); err != nil {
		return err
	}
	b.observe(Outbound, event)
	return nil
}

func (b *Bridge) observe(d Direction, e protocol.Event) {
	if b.onEvent != nil {
		b.onEvent(d, e)
	}
}
