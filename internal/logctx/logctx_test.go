package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFromContext(ctx)
	assert.Same(t, logger, got)

	got.Info("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	got := LoggerFromContext(context.Background())
	assert.Same(t, slog.Default(), got)
}
