package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/runledger/config"
)

func TestBuildApp_MemoryBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	logger := zap.NewNop()

	app, err := buildApp(cfg, "", logger, zap.NewAtomicLevel())
	require.NoError(t, err)
	require.NotNil(t, app.manager)
	assert.Nil(t, app.reloader)

	app.closeBackends()
}

func TestBuildLockManager_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Lock.Backend = "etcd"

	_, err := buildLockManager(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestBuildIdempotencyStore_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Idempotency.Backend = "dynamo"

	_, err := buildIdempotencyStore(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestInitLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, atomicLevel := initLogger(config.LogConfig{Level: tt.level, Format: "json"})
			require.NotNil(t, logger)
			assert.Equal(t, tt.expected, atomicLevel.Level())
		})
	}
}
