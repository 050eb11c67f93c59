package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/tracectrl/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Format = "json"
	cfg.Environment = "test"

	var buf bytes.Buffer
	log := newLogger(cfg, &buf)
	log.Info().Str("component", "test").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "tracectrl", line["service"])
	assert.Equal(t, "test", line["environment"])
	assert.Equal(t, "test", line["component"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	log := newLogger(cfg, &buf)
	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestNewLoggerService_DisabledWithoutLicense(t *testing.T) {
	ls, err := NewLoggerService(config.DefaultObservabilityConfig())
	require.NoError(t, err)
	assert.Nil(t, ls.Application())
	ls.Shutdown()
}

type recordedLog struct {
	level tracelog.LogLevel
	msg   string
}

type recordingLogger struct {
	logs []recordedLog
}

func (r *recordingLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, _ map[string]any) {
	r.logs = append(r.logs, recordedLog{level: level, msg: msg})
}

func TestSlowQueryLogger(t *testing.T) {
	rec := &recordingLogger{}
	l := &slowQueryLogger{next: rec, threshold: 50 * time.Millisecond, minLevel: tracelog.LogLevelWarn}
	ctx := context.Background()

	l.Log(ctx, tracelog.LogLevelInfo, "Query", map[string]any{"time": 10 * time.Millisecond})
	l.Log(ctx, tracelog.LogLevelInfo, "Query", map[string]any{"time": 80 * time.Millisecond})
	l.Log(ctx, tracelog.LogLevelError, "Query", map[string]any{"time": time.Millisecond})

	require.Len(t, rec.logs, 2)
	assert.Equal(t, recordedLog{level: tracelog.LogLevelWarn, msg: "slow Query"}, rec.logs[0])
	assert.Equal(t, tracelog.LogLevelError, rec.logs[1].level)
}

func TestPgxLogLevel(t *testing.T) {
	assert.Equal(t, tracelog.LogLevelDebug, PgxLogLevel("debug"))
	assert.Equal(t, tracelog.LogLevelWarn, PgxLogLevel("info"))
	assert.Equal(t, tracelog.LogLevelNone, PgxLogLevel("disabled"))
}
