package gateway

import (
	"sort"
	"sync"
	"time"
)

// idleAfter marks a connection idle in listings; it does not close anything.
const idleAfter = 30 * time.Second

// ConnectionRegistry tracks live sessions by connection id.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its connection id.
func (r *ConnectionRegistry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ConnID()] = s
}

// Remove drops a session.
func (r *ConnectionRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, connID)
}

// Get retrieves a session by connection id.
func (r *ConnectionRegistry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// List returns a snapshot of every live session, oldest first.
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	now := time.Now()
	infos := make([]ConnectionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		info.Idle = now.Sub(info.LastActivity) > idleAfter
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
