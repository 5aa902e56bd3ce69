package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg := Load()

	assert.Equal(t, "SEK", cfg.Payment.Currency)
	assert.Equal(t, time.Minute, cfg.Monitoring.SampleInterval)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "grpc", cfg.Observability.OTLPProtocol)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadObservabilityOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")

	cfg := Load()

	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, "http", cfg.Observability.OTLPProtocol)
	assert.True(t, cfg.Observability.OTelEnabled)
}

func TestOTelEnabledFlagWins(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OTEL_ENABLED", "false")
	assert.False(t, Load().Observability.OTelEnabled)

	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("OTEL_ENABLED", "true")
	assert.True(t, Load().Observability.OTelEnabled)

	t.Setenv("OTEL_ENABLED", "maybe")
	assert.False(t, Load().Observability.OTelEnabled)
}
