package gateway

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a gateway session.
type State int32

const (
	StateConstructing State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "CONSTRUCTING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON listings.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateConstructing, StateActive, StateDraining, StateClosed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Cause labels why a session was torn down.
type Cause string

const (
	CauseDisconnect      Cause = "disconnect"
	CauseIdle            Cause = "idle_timeout"
	CauseUpstreamError   Cause = "upstream_error"
	CauseDownstreamError Cause = "downstream_error"
	CauseAgentEnd        Cause = "agent_end"
	CauseExpired         Cause = "expired"
	CauseShutdown        Cause = "shutdown"
	CauseCancelled       Cause = "cancelled"
	CauseActivation      Cause = "activation_failed"
	CauseInternal        Cause = "internal"
)

// ConnectionInfo is a snapshot of one live connection.
type ConnectionInfo struct {
	ConnID       string    `json:"connId"`
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	State        State     `json:"state"`
	Resumed      bool      `json:"resumed"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Idle         bool      `json:"idle"`
}
