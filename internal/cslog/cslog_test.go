package cslog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "NOTICE", levelString(LevelNotice))
	assert.Equal(t, "CRITICAL", levelString(LevelCritical))
	assert.Equal(t, "ALERT", levelString(LevelAlert))
	assert.Equal(t, "EMERGENCY", levelString(LevelEmergency))
	assert.Equal(t, "WARNING", levelString(slog.LevelWarn))
}

func TestHandlerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewHandler(buf, slog.LevelInfo, FormatText)
	r := slog.NewRecord(slog.Time(0, 0), slog.LevelInfo, "hello", 0)
	require.NoError(t, h.Handle(context.Background(), r))
	assert.Contains(t, buf.String(), "INFO")
	assert.Contains(t, buf.String(), "hello")
}

func TestHandlerJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewHandler(buf, slog.LevelInfo, FormatJSON)
	r := slog.NewRecord(slog.Time(0, 0), slog.LevelWarn, "careful", 0)
	require.NoError(t, h.Handle(context.Background(), r))
	assert.Contains(t, buf.String(), `"level":"WARNING"`)
	assert.Contains(t, buf.String(), `"msg":"careful"`)
}

func TestHandlerEnabled(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, slog.LevelWarn, FormatText)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
