package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/mnemolabs/recalld/internal/tenant"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Level: "loud", Format: "json"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
	assert.NoError(t, Config{Level: "debug", Format: "console"}.Validate())
}

func TestNewBuildsLogger(t *testing.T) {
	logger, err := New(Config{Level: "warn", Format: "json"})
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), "info must be disabled at warn level")
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "nope"})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tc := tenant.NewContext("acme-corp",
		tenant.WithActor("svc-import"), tenant.WithRequestID("req-42"))
	fields := ContextFields(tenant.IntoContext(context.Background(), tc))
	require.Len(t, fields, 3)
	assert.Equal(t, "tenant", fields[0].Key)
	assert.Equal(t, "actor", fields[1].Key)
	assert.Equal(t, "request_id", fields[2].Key)

	bare := tenant.IntoContext(context.Background(), tenant.NewContext("acme-corp"))
	fields = ContextFields(bare)
	require.Len(t, fields, 1)
	assert.Equal(t, "tenant", fields[0].Key)
}
