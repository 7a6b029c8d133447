package requestqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity bounds a queue created without an explicit capacity.
const DefaultCapacity = 256

var (
	// ErrClosed is returned by Push and Pop once the queue is closed.
	ErrClosed = errors.New("request queue closed")
	// ErrFull is returned by Push under OverflowFail when the queue is full.
	ErrFull = errors.New("request queue full")
	// ErrMalformed is returned when a Malformed frame is pushed.
	ErrMalformed = errors.New("malformed frames cannot be enqueued")
)

// OverflowPolicy decides what Push does when the queue is at capacity.
type OverflowPolicy string

const (
	// OverflowBlock waits for space, the connection context or Close.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop discards the new frame and reports success.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowFail rejects the new frame with ErrFull.
	OverflowFail OverflowPolicy = "fail"
)

// ParseOverflowPolicy maps a config value to a policy. Empty means block.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDrop:
		return OverflowDrop, nil
	case OverflowFail:
		return OverflowFail, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Options configures a Queue.
type Options struct {
	Capacity int
	Overflow OverflowPolicy
	Logger   *zerolog.Logger
}

// Stats is a point-in-time view of queue activity.
type Stats struct {
	Pushed  int64
	Popped  int64
	Dropped int64
	Pending int
	Closed  bool
}

// Queue is a bounded FIFO of frames with a single producer and a single consumer.
type Queue struct {
	items    chan frame.Frame
	done     chan struct{}
	overflow OverflowPolicy
	logger   zerolog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	pushed  atomic.Int64
	popped  atomic.Int64
	dropped atomic.Int64
}

// New creates an open queue.
func New(opts Options) *Queue {
	observability.EnsureRegistered()

	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	overflow := opts.Overflow
	if overflow == "" {
		overflow = OverflowBlock
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Queue{
		items:    make(chan frame.Frame, capacity),
		done:     make(chan struct{}),
		overflow: overflow,
		logger:   logger.With().Str("component", "requestqueue").Logger(),
	}
}

// Push appends f. Under OverflowBlock it suspends until there is room, the
// queue closes (ErrClosed) or ctx is cancelled (ctx.Err()).
func (q *Queue) Push(ctx context.Context, f frame.Frame) error {
	if frame.IsMalformed(f) {
		return ErrMalformed
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- f:
		q.accepted()
		return nil
	default:
	}

	observability.RecordQueueOverflow(string(q.overflow))

	switch q.overflow {
	case OverflowDrop:
		q.dropped.Add(1)
		q.logger.Warn().Str("kind", string(f.Kind())).Int("capacity", cap(q.items)).Msg("Request queue full, dropping frame")
		return nil
	case OverflowFail:
		return fmt.Errorf("%w: capacity %d", ErrFull, cap(q.items))
	}

	select {
	case q.items <- f:
		q.accepted()
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) accepted() {
	q.pushed.Add(1)
	observability.AddQueueDepth(1)
}

// Pop removes the oldest frame, suspending until one is available. It
// returns ErrClosed once the queue is closed, even if frames were pending.
func (q *Queue) Pop(ctx context.Context) (frame.Frame, error) {
	select {
	case <-q.done:
		return nil, ErrClosed
	default:
	}

	select {
	case f := <-q.items:
		q.popped.Add(1)
		observability.AddQueueDepth(-1)
		return f, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects further pushes and wakes every suspended Push and Pop.
// Pending frames are discarded. Calling Close more than once has no effect.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		// Wake blocked pushers before taking the write lock they hold in read mode.
		close(q.done)

		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		discarded := 0
	drain:
		for {
			select {
			case <-q.items:
				discarded++
			default:
				break drain
			}
		}
		if discarded > 0 {
			observability.AddQueueDepth(-discarded)
			q.logger.Debug().Int("discarded", discarded).Msg("Request queue closed with pending frames")
		}
	})
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Done is closed when the queue closes.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of pending frames.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Popped:  q.popped.Load(),
		Dropped: q.dropped.Load(),
		Pending: len(q.items),
		Closed:  q.Closed(),
	}
}
