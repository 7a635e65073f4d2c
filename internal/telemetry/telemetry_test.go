package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "recalld", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, Config{SampleRatio: 1.5}.Validate())
	assert.Error(t, Config{SampleRatio: -0.1}.Validate())
}

func TestDisabledTelemetryIsNoOp(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel)

	tracer := tel.Tracer("test")
	_, span := tracer.Start(ctx, "op")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, tel.Shutdown(ctx))

	var nilTel *Telemetry
	assert.NotNil(t, nilTel.Tracer("test"))
	assert.NoError(t, nilTel.Shutdown(ctx))
}
