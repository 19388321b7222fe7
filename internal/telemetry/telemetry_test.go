package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/inkforge/pipeline/config"
)

func TestInit_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tel := Init(config.TelemetryConfig{Enabled: false}, logger)
	assert.False(t, tel.Enabled)
	assert.Nil(t, tel.Collector)
}

func TestInit_Enabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tel := Init(config.TelemetryConfig{Enabled: true, ServiceName: "pipeline_test_enabled"}, logger)
	assert.True(t, tel.Enabled)
	assert.NotNil(t, tel.Collector)
}

func TestInit_DefaultsNamespaceWhenServiceNameEmpty(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tel := Init(config.TelemetryConfig{Enabled: true}, logger)
	assert.True(t, tel.Enabled)
	assert.NotNil(t, tel.Collector)
}

func TestHandler_NeverNil(t *testing.T) {
	logger := zaptest.NewLogger(t)

	disabled := Init(config.TelemetryConfig{Enabled: false}, logger)
	assert.NotNil(t, disabled.Handler())

	enabled := Init(config.TelemetryConfig{Enabled: true, ServiceName: "pipeline_test_handler"}, logger)
	assert.NotNil(t, enabled.Handler())
}

func TestSanitizeNamespace(t *testing.T) {
	assert.Equal(t, "my_service_1", sanitizeNamespace("my-service.1"))
	assert.Equal(t, "pipeline", sanitizeNamespace("pipeline"))
}
