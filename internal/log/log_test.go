package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, LevelInfo)

	Debug("hidden")
	Info("shown", "username", "rj")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] shown username=rj")
}

func TestErrorPrependsErr(t *testing.T) {
	buf := captureOutput(t, LevelError)

	Info("dropped")
	Error("fetch failed", errors.New("boom"), "id", "ev-1")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "[ERROR] fetch failed err=boom id=ev-1")
}

func TestFormatKVs(t *testing.T) {
	assert.Equal(t, ` title="Night Tour" n=2`, formatKVs("title", "Night Tour", "n", 2))
	assert.Equal(t, " a=1", formatKVs("a", 1, "odd"))
	assert.Equal(t, ` empty=""`, formatKVs("empty", ""))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
