package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/session"
)

// Session is the gateway-side state of one client connection.
type Session struct {
	connID      string
	handle      session.Handle
	connectedAt time.Time

	state           atomic.Int32
	contextInjected atomic.Bool
	lastActivity    atomic.Int64

	ready     chan struct{}
	readyOnce sync.Once

	onTransition func(from, to State)
}

func newSession(connID string, h session.Handle, onTransition func(from, to State)) *Session {
	now := time.Now()
	s := &Session{
		connID:       connID,
		handle:       h,
		connectedAt:  now,
		ready:        make(chan struct{}),
		onTransition: onTransition,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ConnID returns the connection id.
func (s *Session) ConnID() string { return s.connID }

// Handle returns the resolved session handle.
func (s *Session) Handle() session.Handle { return s.handle }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Ready is closed once activation has been attempted.
func (s *Session) Ready() <-chan struct{} { return s.ready }

func (s *Session) transition(from, to State) bool {
	if to <= from {
		return false
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
	return true
}

// activate moves CONSTRUCTING to ACTIVE and releases the duties.
func (s *Session) activate() bool {
	ok := s.transition(StateConstructing, StateActive)
	s.markReady()
	return ok
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// drain moves an active or never-activated session to DRAINING.
func (s *Session) drain() State {
	if s.transition(StateActive, StateDraining) {
		return StateActive
	}
	if s.transition(StateConstructing, StateDraining) {
		return StateConstructing
	}
	return s.State()
}

func (s *Session) close() {
	s.transition(StateDraining, StateClosed)
}

// injectContext pushes the one-shot context note. Later calls are no-ops.
func (s *Session) injectContext(ctx context.Context, q Queue) error {
	if !s.contextInjected.CompareAndSwap(false, true) {
		return nil
	}
	return q.Push(ctx, frame.ContextFrame{Text: s.handle.ContextNote()})
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last frame in either direction.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Info returns a listing snapshot.
func (s *Session) Info() ConnectionInfo {
	return ConnectionInfo{
		ConnID:       s.connID,
		UserID:       s.handle.UserID,
		SessionID:    s.handle.SessionID,
		State:        s.State(),
		Resumed:      s.handle.Resumed,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.LastActivity(),
	}
}
