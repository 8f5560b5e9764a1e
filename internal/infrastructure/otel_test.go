package infrastructure

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgecli/internal/config"
)

func TestInitializeOTel(t *testing.T) {
	t.Run("tracing disabled", func(t *testing.T) {
		providers, err := InitializeOTel(slog.Default(), config.TelemetryConfig{TraceExporter: "none"})
		require.NoError(t, err)
		assert.NotNil(t, providers.MeterProvider)
		assert.NotNil(t, providers.Registry)
		assert.Nil(t, providers.TracerProvider)
		// Tracer stays usable as a no-op.
		assert.NotNil(t, providers.Tracer("test"))
		require.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("stdout tracing", func(t *testing.T) {
		providers, err := InitializeOTel(slog.Default(), config.TelemetryConfig{
			TraceExporter: "stdout",
			SampleRatio:   1.0,
		})
		require.NoError(t, err)
		assert.NotNil(t, providers.TracerProvider)
		assert.NotNil(t, providers.Tracer("test"))
		require.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := InitializeOTel(slog.Default(), config.TelemetryConfig{TraceExporter: "jaeger"})
		require.Error(t, err)
	})
}
