// Package errs defines the gateway's error taxonomy.
//
// Every failure that reaches an operator is classified as one of:
//   - ErrContainerNotFound: a terminal surface could not be resolved
//   - ErrTransport: a REST or channel call failed (network or non-2xx)
//   - ErrBackend: the remote side reported an explicit terminal_error
//   - ErrActionFailed: an install/remove/update request was rejected
//
// Callers classify with errors.Is; the detailed types unwrap to their sentinel.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrTransport         = errors.New("transport error")
	ErrBackend           = errors.New("backend error")
	ErrActionFailed      = errors.New("action failed")

	ErrSessionExists = errors.New("session already registered")
	ErrNotConnected  = errors.New("channel not connected")
)

// Transport wraps err as a transport failure of op.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// ContainerNotFound reports a surface reference that did not resolve.
func ContainerNotFound(ref string) error {
	return fmt.Errorf("surface %q: %w", ref, ErrContainerNotFound)
}

// ActionError is returned when the backend rejects a tool action.
type ActionError struct {
	Tool   string
	Action string
	Status int
	Body   string
}

func (e *ActionError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Action, e.Tool, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Action, e.Tool, e.Status, e.Body)
}

func (e *ActionError) Unwrap() error { return ErrActionFailed }

// BackendError carries a terminal_error reported by the remote side.
type BackendError struct {
	SessionID string
	Message   string
}

func (e *BackendError) Error() string {
	if e.SessionID == "" {
		return "backend: " + e.Message
	}
	return fmt.Sprintf("backend: session %s: %s", e.SessionID, e.Message)
}

func (e *BackendError) Unwrap() error { return ErrBackend }
