package logger

import (
	"context"
	"time"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/config"
)

// NewPgxTracer returns a pgx query tracer that writes through zerolog.
// Queries at or above the configured slow threshold are promoted to warn.
func NewPgxTracer(log zerolog.Logger, cfg *config.ObservabilityConfig) *tracelog.TraceLog {
	return &tracelog.TraceLog{
		Logger: &slowQueryLogger{
			next:      zerologadapter.NewLogger(log.With().Str("component", "pgx").Logger()),
			threshold: time.Duration(cfg.Logging.SlowQueryThreshold) * time.Millisecond,
			minLevel:  PgxLogLevel(cfg.Logging.Level),
		},
		LogLevel: tracelog.LogLevelInfo,
	}
}

// PgxLogLevel maps a zerolog level name onto the quietest pgx level worth emitting.
func PgxLogLevel(level string) tracelog.LogLevel {
	switch level {
	case "trace":
		return tracelog.LogLevelTrace
	case "debug":
		return tracelog.LogLevelDebug
	case "error", "fatal", "panic":
		return tracelog.LogLevelError
	case "disabled":
		return tracelog.LogLevelNone
	default:
		return tracelog.LogLevelWarn
	}
}

type slowQueryLogger struct {
	next      tracelog.Logger
	threshold time.Duration
	minLevel  tracelog.LogLevel
}

func (l *slowQueryLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	if d, ok := data["time"].(time.Duration); ok && l.threshold > 0 && d >= l.threshold && level > tracelog.LogLevelWarn {
		level = tracelog.LogLevelWarn
		msg = "slow " + msg
	}
	if level > l.minLevel {
		return
	}
	l.next.Log(ctx, level, msg, data)
}
