package postgres

import (
	"errors"
	"fmt"
	"time"
)

// Config holds connection pool settings.
type Config struct {
	// URL is the Postgres connection string (postgres://...).
	URL string `koanf:"url" json:"-"`

	// MaxConns caps the pool size. Requests beyond the cap wait up to
	// AcquireTimeout for a connection.
	MaxConns int32 `koanf:"max_conns" json:"max_conns"`

	// MinConns keeps warm connections open.
	MinConns int32 `koanf:"min_conns" json:"min_conns"`

	// AcquireTimeout bounds how long a request waits for a pooled
	// connection before failing with ErrPoolTimeout.
	AcquireTimeout time.Duration `koanf:"acquire_timeout" json:"acquire_timeout"`

	// StatementTimeout is applied per transaction via SET LOCAL.
	StatementTimeout time.Duration `koanf:"statement_timeout" json:"statement_timeout"`

	// EmbeddingDim is the dimension of the memories.embedding column,
	// rendered into the schema at migration time.
	EmbeddingDim int `koanf:"embedding_dim" json:"embedding_dim"`
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = 1536
	}
}

// Validate checks for unusable settings.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("database url is required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns %d exceeds max_conns %d", c.MinConns, c.MaxConns)
	}
	if c.EmbeddingDim > 16000 {
		return fmt.Errorf("embedding dimension %d exceeds pgvector limit", c.EmbeddingDim)
	}
	return nil
}
