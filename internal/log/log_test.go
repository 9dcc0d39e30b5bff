package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelDebug)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	SetLevel(LevelError)
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	assert.False(t, level.Enabled(zapcore.InfoLevel))

	assert.NotPanics(t, func() {
		Debug("dropped", "k", 1)
		Error("kept", errors.New("boom"), "k", 2)
		Sync()
	})
}
