package gateway

import (
	"errors"
	"fmt"

	"github.com/ai-educate/livetutor/pkg/frame"
)

var (
	// ErrTransportClosed is returned by a transport after its local Close.
	ErrTransportClosed = errors.New("transport closed")
	// ErrIdleTimeout is returned when the client sends nothing for the idle window.
	ErrIdleTimeout = errors.New("client idle timeout")
	// ErrSessionExpired is the cancellation cause once the maximum session duration elapses.
	ErrSessionExpired = errors.New("session duration limit reached")
	// ErrShuttingDown is the cancellation cause for connections cut by server shutdown.
	ErrShuttingDown = errors.New("gateway shutting down")
)

// TransportError is a failure of the client connection itself.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedInputError describes a client frame that could not be decoded.
// It is reported, never fatal.
type MalformedInputError struct {
	Reason frame.Reason
	Err    error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input (%s): %v", e.Reason, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// AgentRuntimeError wraps a failure raised by the agent runtime or its queue.
type AgentRuntimeError struct {
	Op  string
	Err error
}

func (e *AgentRuntimeError) Error() string {
	return fmt.Sprintf("agent runtime %s: %v", e.Op, e.Err)
}

func (e *AgentRuntimeError) Unwrap() error { return e.Err }

// SessionResolutionError is returned when the session store cannot produce a handle.
type SessionResolutionError struct {
	UserID    string
	SessionID string
	Err       error
}

func (e *SessionResolutionError) Error() string {
	return fmt.Sprintf("resolve session %s/%s: %v", e.UserID, e.SessionID, e.Err)
}

func (e *SessionResolutionError) Unwrap() error { return e.Err }
