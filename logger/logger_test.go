package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false, false)

	l.Debug("hidden")
	assert.Zero(t, buf.Len(), "debug must be filtered at info level")

	l.With("component", "padp").Info("frame dropped", "xid", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "frame dropped", rec["msg"])
	assert.Equal(t, "padp", rec["component"])
	assert.EqualValues(t, 7, rec["xid"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_ChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewSlogWriter(&buf, InfoLevel, false, false)
	child := parent.With("session", "abc")

	parent.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())

	child.Debug("visible")
	assert.NotZero(t, buf.Len())
}

func TestSetDefault(t *testing.T) {
	prev := GetLogger()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewSlogWriter(&buf, InfoLevel, false, false))
	SetDefault(nil)

	With("server", "usb").Warn("device gone")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "device gone", rec["msg"])
	assert.Equal(t, "usb", rec["server"])
}
