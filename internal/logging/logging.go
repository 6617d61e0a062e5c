// Package logging configures specloom's process-wide structured logger.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/sipeed/specloom/pkg/domain"
)

// Level mirrors the CLI's --verbose/--quiet vocabulary onto zerolog's levels.
type Level int

const (
	LevelQuiet Level = iota
	LevelInfo
	LevelDebug
)

// New builds the process-wide logger, writing to w (os.Stderr in
// production, a buffer in tests) at the given level.
func New(w io.Writer, level Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	var zl zerolog.Level
	switch level {
	case LevelQuiet:
		zl = zerolog.ErrorLevel
	case LevelDebug:
		zl = zerolog.DebugLevel
	default:
		zl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(zl).With().Timestamp().Logger()
}

// Default builds a production logger writing to stderr at LevelInfo.
func Default() zerolog.Logger {
	return New(os.Stderr, LevelInfo)
}

type ctxKey struct{}

// WithContext attaches a logger to ctx, recoverable with FromContext.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext recovers a logger attached to ctx, or a new timestamped
// logger writing to stderr if none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// WithChain returns a child logger annotated with a chain id, for
// request-scoped fields during one pipeline run.
func WithChain(logger zerolog.Logger, chain string) zerolog.Logger {
	return logger.With().Str("chain", chain).Logger()
}

// WithMessage returns a child logger annotated with a message id and
// attempt number.
func WithMessage(logger zerolog.Logger, messageID string, attempt int) zerolog.Logger {
	return logger.With().Str("message_id", messageID).Int("attempt", attempt).Logger()
}

// NewEventHandler builds a domain.EventHandler that records every event
// passing through the bus as a debug-level log line, independent of the
// narration the pipeline logs directly at each lifecycle step. Subscribe it
// with EventBus.SubscribeAll.
func NewEventHandler(logger zerolog.Logger) domain.EventHandler {
	return func(ev domain.Event) {
		entry := logger.Debug().
			Str("event_type", string(ev.EventType())).
			Time("occurred_at", ev.OccurredAt())
		if fields, ok := ev.Payload().(map[string]string); ok {
			for k, v := range fields {
				entry = entry.Str(k, v)
			}
		}
		entry.Msg("event")
	}
}
