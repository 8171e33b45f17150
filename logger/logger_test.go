package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"spectra/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "spectra.log")

	log, err := New(config.Logging{Level: "info", File: logFile, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("catalog opened")
	log.Debug("filtered out")
	_ = log.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"catalog opened"`)
	assert.NotContains(t, string(data), "filtered out")
}
