package session

import (
	"context"
	"time"

	"github.com/ai-educate/livetutor/internal/observability"
	"github.com/ai-educate/livetutor/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "livetutor.session"

type resolveFunc func(ctx context.Context) (Handle, error)

// traceResolve wraps one Resolve call with validation, a span, a log line
// and the resolve-duration metric.
func traceResolve(ctx context.Context, base zerolog.Logger, store, userID, sessionID string, fn resolveFunc) (Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"session.resolve",
		attribute.String("store", store),
		attribute.String("user_id", userID),
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, base)

	start := time.Now()
	h, err := func() (Handle, error) {
		if err := ValidateIdentity(userID, sessionID); err != nil {
			return Handle{}, err
		}
		return fn(ctx)
	}()
	observability.RecordSessionResolve(store, time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("store", store).Msg("Session resolution failed")
		return Handle{}, err
	}

	span.SetAttributes(attribute.Bool("resumed", h.Resumed))
	if h.Resumed {
		logger.Info().Str("handle", h.ID).Time("created_at", h.CreatedAt).Msg("Resuming existing session")
	} else {
		logger.Info().Str("handle", h.ID).Msg("Created new session")
	}
	return h, nil
}
