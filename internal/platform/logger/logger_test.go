package logger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/platform/logger"
)

func TestSetup(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := logger.Setup(level)
		require.NoError(t, err)
		assert.NotNil(t, log)
	}

	// Unknown levels fall back to info instead of failing startup.
	log, err := logger.Setup("shouting")
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	attached := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := logger.WithLogger(context.Background(), attached)

	assert.Same(t, attached, logger.FromContext(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, logger.FromContext(context.Background()))
	assert.NotNil(t, logger.FromContext(nil)) //nolint:staticcheck // exercising the nil guard
}
