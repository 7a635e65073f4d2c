// Package config loads recalld configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/mnemolabs/recalld/internal/embeddings"
	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/logging"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/retrieval"
	"github.com/mnemolabs/recalld/internal/telemetry"
)

// Config is the complete recalld configuration.
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Postgres   postgres.Config   `koanf:"postgres"`
	Embeddings embeddings.Config `koanf:"embeddings"`
	Retrieval  retrieval.Config  `koanf:"retrieval"`
	Events     events.Config     `koanf:"events"`
	Logging    logging.Config    `koanf:"logging"`
	Telemetry  telemetry.Config  `koanf:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPAddr is the listen address for the MCP, health, and metrics
	// endpoints.
	HTTPAddr string `koanf:"http_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ApplyDefaults fills zero values across all sections.
func (c *Config) ApplyDefaults() {
	// The embedding column width and the endpoint's vector width must
	// agree; setting either knob sets both.
	if c.Postgres.EmbeddingDim <= 0 && c.Embeddings.Dimension > 0 {
		c.Postgres.EmbeddingDim = c.Embeddings.Dimension
	}
	if c.Embeddings.Dimension <= 0 && c.Postgres.EmbeddingDim > 0 {
		c.Embeddings.Dimension = c.Postgres.EmbeddingDim
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":9090"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	c.Postgres.ApplyDefaults()
	c.Embeddings.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Events.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate checks every section. The embeddings section is only validated
// when an endpoint is configured; running without one is supported and
// disables the vector channel.
func (c *Config) Validate() error {
	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if c.Embeddings.Enabled() {
		if err := c.Embeddings.Validate(); err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		if c.Embeddings.Dimension != c.Postgres.EmbeddingDim {
			return fmt.Errorf("embeddings dimension %d does not match postgres embedding_dim %d",
				c.Embeddings.Dimension, c.Postgres.EmbeddingDim)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
