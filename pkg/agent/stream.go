package agent

import (
	"context"

	"github.com/ai-educate/livetutor/pkg/frame"
)

// chanStream reads events from a channel closed by the producer. end
// reports why the channel closed.
type chanStream struct {
	events <-chan frame.AgentEvent
	end    func() error
}

func (s *chanStream) Next(ctx context.Context) (frame.AgentEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.end()
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
