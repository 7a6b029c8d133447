package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type identity struct {
	userID    string
	sessionID string
}

// MemoryStore keeps sessions in process memory. State is lost on restart.
type MemoryStore struct {
	appName  string
	logger   zerolog.Logger
	now      func() time.Time
	mu       sync.Mutex
	sessions map[identity]Handle
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(appName string, logger *zerolog.Logger) *MemoryStore {
	if appName == "" {
		appName = DefaultAppName
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &MemoryStore{
		appName:  appName,
		logger:   l.With().Str("component", "session").Str("store", "memory").Logger(),
		now:      time.Now,
		sessions: make(map[identity]Handle),
	}
}

// Resolve returns the session for (userID, sessionID), creating it on first use.
func (s *MemoryStore) Resolve(ctx context.Context, userID, sessionID string) (Handle, error) {
	return traceResolve(ctx, s.logger, "memory", userID, sessionID, func(ctx context.Context) (Handle, error) {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}

		key := identity{userID: userID, sessionID: sessionID}
		now := s.now().UTC()

		s.mu.Lock()
		defer s.mu.Unlock()

		h, ok := s.sessions[key]
		if !ok {
			h = Handle{
				ID:         uuid.New().String(),
				AppName:    s.appName,
				UserID:     userID,
				SessionID:  sessionID,
				CreatedAt:  now,
				LastSeenAt: now,
			}
			s.sessions[key] = h
			return h, nil
		}

		h.LastSeenAt = now
		s.sessions[key] = h
		h.Resumed = true
		return h, nil
	})
}

// Sweep removes sessions last seen before cutoff.
func (s *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, h := range s.sessions {
		if h.LastSeenAt.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored sessions.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
