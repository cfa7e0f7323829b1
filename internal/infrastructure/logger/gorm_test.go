package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), recorded
}

func TestGormLogger_Options(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info,
		WithSlowThreshold(500*time.Millisecond),
		WithMaxSQLLength(16),
	)
	assert.Equal(t, 500*time.Millisecond, gl.slowThreshold)
	assert.Equal(t, 16, gl.maxSQLLength)

	warn, ok := gl.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Warn, warn.level)
	assert.Equal(t, gormlogger.Info, gl.level)
}

func TestGormLogger_Trace(t *testing.T) {
	sqlFn := func() (string, int64) { return "SELECT * FROM canonical_entities", 3 }

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		begin     time.Time
		err       error
		wantLevel zapcore.Level
		wantMsg   string
		wantNone  bool
	}{
		{name: "error", level: gormlogger.Error, begin: time.Now(), err: errors.New("deadlock"), wantLevel: zapcore.ErrorLevel, wantMsg: "SQL error"},
		{name: "record not found ignored", level: gormlogger.Info, begin: time.Now(), err: gormlogger.ErrRecordNotFound, wantNone: true},
		{name: "canceled pass", level: gormlogger.Warn, begin: time.Now(), err: context.Canceled, wantLevel: zapcore.WarnLevel, wantMsg: "SQL canceled"},
		{name: "canceled hidden at error level", level: gormlogger.Error, begin: time.Now(), err: context.DeadlineExceeded, wantNone: true},
		{name: "slow query", level: gormlogger.Warn, begin: time.Now().Add(-time.Second), wantLevel: zapcore.WarnLevel, wantMsg: "Slow SQL"},
		{name: "slow query hidden at error level", level: gormlogger.Error, begin: time.Now().Add(-time.Second), wantNone: true},
		{name: "normal query", level: gormlogger.Info, begin: time.Now(), wantLevel: zapcore.DebugLevel, wantMsg: "SQL"},
		{name: "normal query hidden at warn level", level: gormlogger.Warn, begin: time.Now(), wantNone: true},
		{name: "silent", level: gormlogger.Silent, begin: time.Now(), err: errors.New("ignored"), wantNone: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gl, recorded := newObservedGormLogger(tt.level)
			gl.Trace(context.Background(), tt.begin, sqlFn, tt.err)

			if tt.wantNone {
				assert.Zero(t, recorded.Len())
				return
			}
			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, "SELECT * FROM canonical_entities", entry.ContextMap()["sql"])
		})
	}
}

func TestGormLogger_Trace_TruncatesLongStatements(t *testing.T) {
	gl, recorded := newObservedGormLogger(gormlogger.Info, WithMaxSQLLength(6))
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT INTO domain_events VALUES (1)", 1 }, nil)

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "INSERT...(truncated)", recorded.All()[0].ContextMap()["sql"])
}

func TestGormLogger_Trace_CarriesContextIDs(t *testing.T) {
	gl, recorded := newObservedGormLogger(gormlogger.Info)

	ctx, _ := WithRequestID(context.Background(), zap.NewNop(), "req-1")
	ctx, _ = WithJobID(ctx, zap.NewNop(), "job-7")
	ctx, _ = WithEntityType(ctx, zap.NewNop(), "account")
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "job-7", fields["job_id"])
	assert.Equal(t, "account", fields["entity_type"])
}

func TestGormLogger_Messages(t *testing.T) {
	gl, recorded := newObservedGormLogger(gormlogger.Warn)
	ctx := context.Background()

	gl.Info(ctx, "migrated %d tables", 9)
	gl.Warn(ctx, "pool at %d%%", 90)
	gl.Error(ctx, "lost connection to %s", "postgres")

	require.Equal(t, 2, recorded.Len())
	assert.Equal(t, "pool at 90%", recorded.All()[0].Message)
	assert.Equal(t, "lost connection to postgres", recorded.All()[1].Message)
}

func TestMapGormLogLevel(t *testing.T) {
	tests := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		"info":    gormlogger.Warn,
		"debug":   gormlogger.Info,
		"unknown": gormlogger.Warn,
		"":        gormlogger.Warn,
	}
	for level, want := range tests {
		assert.Equal(t, want, MapGormLogLevel(level), level)
	}
}

var _ gormlogger.Interface = (*GormLogger)(nil)
