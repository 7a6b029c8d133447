package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/ai-educate/livetutor/pkg/session"
)

var (
	// ErrRuntimeClosed is returned by operations on a closed runtime.
	ErrRuntimeClosed = errors.New("agent runtime closed")
	// ErrAlreadySubscribed is returned by a second Subscribe.
	ErrAlreadySubscribed = errors.New("agent runtime already has a subscriber")
	// ErrUnsupportedFrame is returned when a runtime cannot accept a frame kind.
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// Source is the ordered request channel a runtime consumes.
type Source interface {
	Pop(ctx context.Context) (frame.Frame, error)
}

// Stream yields runtime output in production order. Next returns io.EOF when
// the runtime ends normally.
type Stream interface {
	Next(ctx context.Context) (frame.AgentEvent, error)
}

// Runtime is one live conversation with the agent.
type Runtime interface {
	// Push hands one request frame to the agent.
	Push(ctx context.Context, f frame.Frame) error
	Subscribe(ctx context.Context) (Stream, error)
	Close() error
}

// Connector opens runtimes for resolved sessions. Connect starts consuming
// input and returns once the runtime is ready for Subscribe.
type Connector interface {
	Name() string
	Connect(ctx context.Context, h session.Handle, input Source) (Runtime, error)
}

// Forward pops frames from src and pushes them into rt until src closes or
// ctx is cancelled, both of which end it without error.
func Forward(ctx context.Context, src Source, rt Runtime) error {
	for {
		f, err := src.Pop(ctx)
		if err != nil {
			if errors.Is(err, requestqueue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to pop request: %w", err)
		}

		if err := rt.Push(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to push %s frame: %w", f.Kind(), err)
		}
	}
}
