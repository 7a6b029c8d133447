package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/internal/tracing"
	"github.com/ai-educate/livetutor/pkg/agent"
	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/ai-educate/livetutor/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/ai-educate/livetutor/pkg/gateway"

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Resolver  session.Resolver
	Connector agent.Connector
	Codec     *frame.Codec
	Queue     requestqueue.Options
	// NewQueue overrides queue construction; Queue is ignored when set.
	NewQueue func() Queue
	Registry *ConnectionRegistry
	// MaxSessionDuration ends a session after this long. Zero disables it.
	MaxSessionDuration time.Duration
	// OnStateChange observes every session state transition.
	OnStateChange func(connID string, from, to State)
	// OnClosed observes the teardown cause of every activated connection.
	OnClosed func(connID string, cause Cause)
	Logger   zerolog.Logger
}

// Handler runs the lifecycle of individual client connections.
type Handler struct {
	resolver      session.Resolver
	connector     agent.Connector
	codec         *frame.Codec
	newQueue      func() Queue
	registry      *ConnectionRegistry
	maxDuration   time.Duration
	onStateChange func(connID string, from, to State)
	onClosed      func(connID string, cause Cause)
	logger        zerolog.Logger
}

// NewHandler validates cfg and builds a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("session resolver is required")
	}
	if cfg.Connector == nil {
		return nil, fmt.Errorf("agent connector is required")
	}
	if cfg.MaxSessionDuration < 0 {
		return nil, fmt.Errorf("invalid max session duration: %s", cfg.MaxSessionDuration)
	}

	codec := cfg.Codec
	if codec == nil {
		var err error
		codec, err = frame.NewCodec()
		if err != nil {
			return nil, fmt.Errorf("failed to build frame codec: %w", err)
		}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewConnectionRegistry()
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()

	newQueue := cfg.NewQueue
	if newQueue == nil {
		opts := cfg.Queue
		if opts.Logger == nil {
			opts.Logger = &logger
		}
		newQueue = func() Queue { return requestqueue.New(opts) }
	}

	return &Handler{
		resolver:      cfg.Resolver,
		connector:     cfg.Connector,
		codec:         codec,
		newQueue:      newQueue,
		registry:      registry,
		maxDuration:   cfg.MaxSessionDuration,
		onStateChange: cfg.OnStateChange,
		onClosed:      cfg.OnClosed,
		logger:        logger,
	}, nil
}

// Registry returns the live connection registry.
func (h *Handler) Registry() *ConnectionRegistry { return h.registry }

// Serve runs one connection to completion. It owns t and always closes it.
// The returned error is the first fatal failure; a client disconnect or a
// normal agent end returns nil.
func (h *Handler) Serve(ctx context.Context, t Transport, userID, sessionID string) error {
	connID, err := gonanoid.New()
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("failed to generate connection id: %w", err)
	}

	ctx = tracing.NewConnectionContext(ctx, connID, userID, sessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "gateway.connection",
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID),
		attribute.String("connection.id", connID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, h.logger)
	logger.Info().Msg("Client connected")

	handle, err := h.resolver.Resolve(ctx, userID, sessionID)
	if err != nil {
		_ = t.Close()
		observability.RecordConnectionRefused("resolution_failed")
		observability.RecordSessionAudit(ctx, userID, sessionID, "connect", "refused", map[string]interface{}{"error": err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "session resolution failed")
		logger.Error().Err(err).Msg("Session resolution failed")
		return &SessionResolutionError{UserID: userID, SessionID: sessionID, Err: err}
	}

	q := h.newQueue()
	connectStart := time.Now()
	rt, err := h.connector.Connect(ctx, handle, q)
	observability.RecordRuntimeConnect(h.connector.Name(), time.Since(connectStart), err == nil)
	if err != nil {
		q.Close()
		_ = t.Close()
		observability.RecordConnectionRefused("runtime_failed")
		observability.RecordSessionAudit(ctx, userID, sessionID, "connect", "refused", map[string]interface{}{"error": err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent runtime unavailable")
		logger.Error().Err(err).Str("provider", h.connector.Name()).Msg("Agent runtime connect failed")
		return &AgentRuntimeError{Op: "connect", Err: err}
	}

	sess := newSession(connID, handle, func(from, to State) {
		logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Session state changed")
		if h.onStateChange != nil {
			h.onStateChange(connID, from, to)
		}
	})

	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if h.maxDuration > 0 {
		var stop context.CancelFunc
		connCtx, stop = context.WithTimeoutCause(connCtx, h.maxDuration, ErrSessionExpired)
		defer stop()
	}

	td := newTeardown(sess, cancel, q, t, rt, logger)

	h.registry.Add(sess)
	defer h.registry.Remove(connID)

	opened := time.Now()
	observability.RecordConnectionOpened()
	defer func() {
		cause := td.Cause()
		observability.RecordConnectionClosed(string(cause), time.Since(opened))
		if h.onClosed != nil {
			h.onClosed(connID, cause)
		}
	}()

	if err := sess.injectContext(connCtx, q); err != nil {
		sess.markReady()
		td.Run(&terminal{cause: CauseActivation, err: err})
		span.RecordError(err)
		return &AgentRuntimeError{Op: "inject_context", Err: err}
	}

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error {
		err := h.upstream(gctx, sess, t, q, logger)
		td.Run(settle(connCtx, err, upstreamOutcome))
		return err
	})
	g.Go(func() error {
		err := h.downstream(gctx, sess, t, rt, logger)
		td.Run(settle(connCtx, err, downstreamOutcome))
		return err
	})

	sess.activate()
	observability.RecordSessionAudit(ctx, userID, sessionID, "connect", "active", map[string]interface{}{
		"conn_id": connID,
		"resumed": handle.Resumed,
	})

	stopAfter := context.AfterFunc(connCtx, func() {
		td.Run(context.Cause(connCtx))
	})

	err = g.Wait()
	stopAfter()
	<-td.Done()

	cause := td.Cause()
	span.SetAttributes(attribute.String("teardown.cause", string(cause)))
	status := "closed"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(cause))
	}
	observability.RecordSessionAudit(tracing.Detach(ctx), userID, sessionID, "disconnect", status, map[string]interface{}{
		"conn_id": connID,
		"cause":   string(cause),
	})

	return err
}

// upstream moves client frames into the request queue in arrival order.
func (h *Handler) upstream(ctx context.Context, sess *Session, t Transport, q Queue, logger zerolog.Logger) error {
	select {
	case <-sess.Ready():
	case <-ctx.Done():
		return nil
	}
	if sess.State() != StateActive {
		return nil
	}

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, ErrTransportClosed) {
				return nil
			}
			return &TransportError{Op: "receive", Err: err}
		}
		sess.touch()

		f := h.codec.Decode(msg.Type, msg.Data)
		if m, ok := f.(frame.Malformed); ok {
			merr := &MalformedInputError{Reason: m.Reason, Err: m.Err}
			observability.RecordMalformedFrame(string(m.Reason))
			logger.Warn().Err(merr).Int("bytes", len(m.Raw)).Msg("Dropping malformed client frame")
			continue
		}

		if err := sess.injectContext(ctx, q); err != nil {
			return &AgentRuntimeError{Op: "inject_context", Err: err}
		}
		if err := q.Push(ctx, f); err != nil {
			if ctx.Err() != nil || errors.Is(err, requestqueue.ErrClosed) {
				return nil
			}
			return &AgentRuntimeError{Op: "push", Err: err}
		}
		observability.RecordInboundFrame(string(f.Kind()))
	}
}

// downstream relays agent output to the client in production order.
func (h *Handler) downstream(ctx context.Context, sess *Session, t Transport, rt agent.Runtime, logger zerolog.Logger) error {
	stream, err := rt.Subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &AgentRuntimeError{Op: "subscribe", Err: err}
	}

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("Agent ended the session")
				return nil
			}
			if ctx.Err() != nil || errors.Is(err, agent.ErrRuntimeClosed) {
				return nil
			}
			return &AgentRuntimeError{Op: "next", Err: err}
		}

		kind := string(ev.EventKind())
		mt, payload, ok, err := frame.Encode(ev)
		if err != nil {
			logger.Warn().Err(err).Str("kind", kind).Msg("Failed to encode agent event")
			observability.RecordOutboundEvent(kind, false)
			continue
		}
		if !ok {
			observability.RecordOutboundEvent(kind, false)
			continue
		}

		if err := t.Send(ctx, Message{Type: mt, Data: payload}); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return nil
			}
			return &TransportError{Op: "send", Err: err}
		}
		observability.RecordOutboundEvent(kind, true)
		sess.touch()
	}
}
