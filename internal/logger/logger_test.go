package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewLogger(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Level = "loud"
		_, err := NewLogger(cfg)
		require.Error(t, err)
	})

	t.Run("writes json to rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "compressor.log")
		cfg := DefaultConfig()
		cfg.Level = "debug"
		cfg.FilePath = path
		cfg.Console = false

		log, err := NewLogger(cfg)
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, log.GetLevel())

		WithSource(log, "photo.png", "compress_local").Info("done")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"done"`)
		assert.Contains(t, string(data), `"operation":"compress_local"`)
		assert.Contains(t, string(data), `"source":"photo.png"`)
	})
}

func TestOutputs(t *testing.T) {
	t.Run("stderr without a file", func(t *testing.T) {
		out, err := outputs(LoggerConfig{})
		require.NoError(t, err)
		assert.Same(t, os.Stderr, out)
	})

	t.Run("file only", func(t *testing.T) {
		out, err := outputs(LoggerConfig{FilePath: filepath.Join(t.TempDir(), "a.log")})
		require.NoError(t, err)
		assert.IsType(t, &lumberjack.Logger{}, out)
	})

	t.Run("file tees to stderr", func(t *testing.T) {
		out, err := outputs(LoggerConfig{FilePath: filepath.Join(t.TempDir(), "b.log"), Console: true})
		require.NoError(t, err)
		assert.NotSame(t, os.Stderr, out)
		_, isFile := out.(*lumberjack.Logger)
		assert.False(t, isFile)
	})
}
