package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultSweepSchedule = "@every 1h"
)

// Sweeper periodically removes sessions idle for longer than the retention.
type Sweeper struct {
	store     Store
	schedule  string
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper validates schedule (standard cron or @every descriptor).
func NewSweeper(store Store, schedule string, retention time.Duration, logger *zerolog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &Sweeper{
		store:     store,
		schedule:  schedule,
		retention: retention,
		logger:    l.With().Str("component", "session_sweeper").Logger(),
		now:       time.Now,
	}, nil
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.SweepOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to sweep sessions")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("Session sweeper started")
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Session sweeper stopped")
	return nil
}

// SweepOnce removes every session last seen more than retention ago.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)

	removed, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	observability.RecordSessionsSwept(removed)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("Swept idle sessions")
	} else {
		s.logger.Debug().Time("cutoff", cutoff).Msg("No idle sessions to sweep")
	}
	return removed, nil
}
