package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	for _, tt := range []struct {
		level string
		want  zapcore.Level
	}{
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	} {
		t.Run(tt.level, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "log.json")
			logger, level, err := New(Config{Level: tt.level, OutputPath: out})
			require.NoError(t, err)
			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, level.Level())
		})
	}
}

func TestLDefaultsToNop(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, Named("resolver"))
	assert.NotNil(t, Or(nil))
}

func TestRequestIDContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := WithLogger(context.Background(), zap.New(core))

	ctx = WithRequestID(ctx, "2Fq8Xn0wH1")
	assert.Equal(t, "2Fq8Xn0wH1", RequestID(ctx))

	FromContext(ctx).Info("copy finished")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "copy finished", entry.Message)
	assert.Equal(t, "2Fq8Xn0wH1", entry.ContextMap()["request_id"])

	assert.Equal(t, "", RequestID(context.Background()))
}
