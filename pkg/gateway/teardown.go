package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/pkg/agent"
	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/rs/zerolog"
)

// terminal tags a duty outcome with the teardown cause it implies.
type terminal struct {
	cause Cause
	err   error
}

func (t *terminal) Error() string {
	if t.err == nil {
		return string(t.cause)
	}
	return string(t.cause) + ": " + t.err.Error()
}

func (t *terminal) Unwrap() error { return t.err }

func upstreamOutcome(err error) error {
	switch {
	case err == nil:
		return &terminal{cause: CauseDisconnect}
	case errors.Is(err, ErrIdleTimeout):
		return &terminal{cause: CauseIdle, err: err}
	default:
		return &terminal{cause: CauseUpstreamError, err: err}
	}
}

func downstreamOutcome(err error) error {
	if err == nil {
		return &terminal{cause: CauseAgentEnd}
	}
	return &terminal{cause: CauseDownstreamError, err: err}
}

// settle prefers the connection's cancellation cause over a quiet duty exit.
func settle(connCtx context.Context, err error, outcome func(error) error) error {
	if err == nil && connCtx.Err() != nil {
		return context.Cause(connCtx)
	}
	return outcome(err)
}

// classify maps any teardown trigger to a Cause.
func classify(err error) Cause {
	var t *terminal
	switch {
	case errors.As(err, &t):
		return t.cause
	case errors.Is(err, ErrSessionExpired):
		return CauseExpired
	case errors.Is(err, ErrShuttingDown):
		return CauseShutdown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseCancelled
	default:
		return CauseInternal
	}
}

// Queue is the request queue as seen by the gateway.
type Queue interface {
	agent.Source
	Push(ctx context.Context, f frame.Frame) error
	Close()
}

// Teardown releases every resource of one session exactly once.
type Teardown struct {
	session   *Session
	cancel    context.CancelCauseFunc
	queue     Queue
	transport Transport
	runtime   agent.Runtime
	logger    zerolog.Logger

	once  sync.Once
	done  chan struct{}
	cause Cause
	err   error
}

func newTeardown(s *Session, cancel context.CancelCauseFunc, q Queue, t Transport, rt agent.Runtime, logger zerolog.Logger) *Teardown {
	return &Teardown{
		session:   s,
		cancel:    cancel,
		queue:     q,
		transport: t,
		runtime:   rt,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Run tears the session down. The first caller does the work; concurrent
// callers block until it finishes and later callers return immediately.
func (td *Teardown) Run(trigger error) {
	td.once.Do(func() {
		<-td.session.Ready()

		td.cause = classify(trigger)
		td.err = trigger
		from := td.session.drain()

		start := time.Now()
		td.cancel(trigger)
		td.queue.Close()

		if err := td.transport.Close(); err != nil {
			td.logger.Debug().Err(err).Msg("Transport close returned error")
		}
		if td.runtime != nil {
			if err := td.runtime.Close(); err != nil {
				td.logger.Warn().Err(err).Msg("Agent runtime close returned error")
			}
		}

		td.session.close()
		observability.RecordTeardown(string(td.cause))

		event := td.logger.Info()
		var term *terminal
		if trigger != nil && (!errors.As(trigger, &term) || term.err != nil) {
			event = td.logger.Warn().Err(trigger)
		}
		if sq, ok := td.queue.(interface{ Stats() requestqueue.Stats }); ok {
			stats := sq.Stats()
			event = event.
				Int64("frames_in", stats.Pushed).
				Int64("frames_out", stats.Popped).
				Int64("frames_dropped", stats.Dropped)
		}
		event.
			Str("cause", string(td.cause)).
			Str("from", from.String()).
			Dur("elapsed", time.Since(start)).
			Msg("Session torn down")

		close(td.done)
	})
}

// Done is closed once teardown has completed.
func (td *Teardown) Done() <-chan struct{} { return td.done }

// Cause reports why the session ended. Valid after Done.
func (td *Teardown) Cause() Cause {
	<-td.done
	return td.cause
}
