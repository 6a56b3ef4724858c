package helper

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrettyHandler(t *testing.T) {
	t.Run("Create PrettyHandler with empty options", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		require.NotNil(t, handler, "Expected NewPrettyHandler to return a non-nil handler")
		assert.NotNil(t, handler.Handler, "Expected handler to wrap a slog handler")
		assert.NotNil(t, handler.l, "Expected handler to have a logger")
	})

	t.Run("Level option is honoured by Enabled", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{Level: slog.LevelWarn},
		})

		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo), "Expected info to be disabled at warn level")
		assert.True(t, handler.Enabled(context.Background(), slog.LevelError), "Expected error to be enabled at warn level")
	})
}

func TestPrettyHandlerHandle(t *testing.T) {
	ctx := context.Background()

	levels := []struct {
		level slog.Level
		label string
	}{
		{slog.LevelDebug, "DEBUG:"},
		{slog.LevelInfo, "INFO:"},
		{slog.LevelWarn, "WARN:"},
		{slog.LevelError, "ERROR:"},
	}

	for _, tc := range levels {
		t.Run("Handle "+tc.label+" record", func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

			record := slog.NewRecord(time.Now(), tc.level, "built flow graph", 0)
			record.AddAttrs(slog.Int("nodes", 7), slog.String("kind", "status_change"))

			err := handler.Handle(ctx, record)

			assert.NoError(t, err, "Expected Handle to not return an error")
			output := buf.String()
			assert.Contains(t, output, tc.label)
			assert.Contains(t, output, "built flow graph")
			assert.Contains(t, output, "nodes")
			assert.Contains(t, output, "7")
			assert.Contains(t, output, "status_change")
		})
	}

	t.Run("Record without attributes prints empty object", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		err := handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "plain", 0))

		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "{}")
	})

	t.Run("Timestamp uses clock format", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		err := handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "time", 0))

		assert.NoError(t, err)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, buf.String())
	})

	t.Run("WithAttrs attributes are printed on every record", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{}).WithAttrs([]slog.Attr{slog.String("component", "aggregator")})

		err := handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "with attrs", 0))

		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "component")
		assert.Contains(t, buf.String(), "aggregator")
	})

	t.Run("Works behind slog.Logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{}))

		logger.Info("via logger", slog.Int("edges", 3))

		assert.Contains(t, buf.String(), "via logger")
		assert.Contains(t, buf.String(), "edges")
	})
}
