package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultLoggerIsUsableBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("not initialised", zap.String("k", "v"))
		GetLogger().Warn("still fine")
	})
}

func TestInitWritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("debug", "json", path))

	Info("chat completed", zap.String("conversation_id", "conv_1"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"chat completed"`)
	assert.Contains(t, string(data), `"conversation_id":"conv_1"`)
}

func TestInitRejectsBadSettings(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	assert.Error(t, Init("loud", "json", "stdout"))
	assert.Error(t, Init("info", "xml", "stdout"))
}
