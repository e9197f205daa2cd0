package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/asxtrader/internal/infra/config"
)

func TestFromConfigAppliesOverrides(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_SDK_DISABLED", "")

	cfg := FromConfig(config.EnvStaging, config.TelemetryConfig{
		OTLPEndpoint:  "http://collector:4318",
		ServiceName:   "bot",
		EnableMetrics: true,
	})
	require.True(t, cfg.Enabled)
	require.True(t, cfg.Insecure)
	require.Equal(t, "bot", cfg.ServiceName)
	require.Equal(t, "staging", cfg.Environment)

	t.Setenv("OTEL_SERVICE_NAME", "from-env")
	t.Setenv("OTEL_SDK_DISABLED", "TRUE")
	cfg = FromConfig(config.EnvProd, config.TelemetryConfig{EnableMetrics: true})
	require.False(t, cfg.Enabled)
	require.Equal(t, "from-env", cfg.ServiceName)
	require.Equal(t, "localhost:4318", cfg.Endpoint)
}

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Environment: "Staging"})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Meter("test"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())

	SetEnvironment("")
	require.Equal(t, "development", Environment())
}

func TestHostPort(t *testing.T) {
	require.Equal(t, "collector:4318", hostPort("https://collector:4318/"))
	require.Equal(t, "collector:4318", hostPort("http://collector:4318"))
	require.Equal(t, "collector:4318", hostPort(" collector:4318 "))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	require.False(t, p.Enabled())
	require.NotNil(t, p.Meter("test"))
	require.NoError(t, p.Shutdown(context.Background()))
}
