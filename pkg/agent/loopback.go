package agent

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoopbackConnector is a development runtime that needs no network: audio is
// echoed back, typed text comes back as a final output transcription and the
// stream ends when the request queue closes.
type LoopbackConnector struct {
	logger zerolog.Logger
}

// NewLoopbackConnector creates a loopback connector.
func NewLoopbackConnector(logger *zerolog.Logger) *LoopbackConnector {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LoopbackConnector{
		logger: l.With().Str("component", "agent").Str("provider", ProviderLoopback).Logger(),
	}
}

func (c *LoopbackConnector) Name() string {
	return ProviderLoopback
}

func (c *LoopbackConnector) Connect(ctx context.Context, h session.Handle, input Source) (Runtime, error) {
	rctx, cancel := context.WithCancel(context.Background())
	rt := &loopbackRuntime{
		ctx:    rctx,
		cancel: cancel,
		events: make(chan frame.AgentEvent, eventBuffer),
		logger: c.logger.With().Str("user_id", h.UserID).Str("session_id", h.SessionID).Logger(),
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := Forward(rctx, input, rt); err != nil {
			rt.logger.Error().Err(err).Msg("Loopback forwarding failed")
		}
		rt.finish()
	}()

	rt.logger.Debug().Msg("Loopback runtime connected")
	return rt, nil
}

type loopbackRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	finished bool
	events   chan frame.AgentEvent

	subscribed atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once

	logger zerolog.Logger
}

func (r *loopbackRuntime) Push(ctx context.Context, f frame.Frame) error {
	var ev frame.AgentEvent
	switch v := f.(type) {
	case frame.AudioChunk:
		ev = frame.AudioOutput{Data: v.Data}
	case frame.TextMessage:
		ev = frame.Transcription{Direction: frame.DirectionOutput, Text: v.Text, IsFinal: true}
	case frame.ImageFrame:
		ev = frame.Other{Type: "image_received"}
	case frame.ContextFrame:
		r.logger.Debug().Str("note", v.Text).Msg("Loopback received context")
		return nil
	default:
		return ErrUnsupportedFrame
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRuntimeClosed
	}

	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRuntimeClosed
	}
}

func (r *loopbackRuntime) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.finished = true
		close(r.events)
	}
}

func (r *loopbackRuntime) Subscribe(ctx context.Context) (Stream, error) {
	if r.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	if !r.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	return &chanStream{events: r.events, end: r.endErr}, nil
}

func (r *loopbackRuntime) endErr() error {
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	return io.EOF
}

func (r *loopbackRuntime) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		r.wg.Wait()
		r.finish()
	})
	return nil
}
