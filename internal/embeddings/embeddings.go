// Package embeddings generates vector embeddings for memory content via
// langchaingo against any OpenAI-compatible endpoint (OpenAI itself, TEI,
// vLLM, LiteLLM proxies).
//
// The service rate-limits outbound requests, retries transient upstream
// failures with exponential backoff, and verifies that every returned
// vector matches the dimension the store was migrated with. A dimension
// mismatch is a deployment error, not a transient one, so it is never
// retried.
package embeddings

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrUpstreamUnavailable indicates the embedding endpoint kept failing
	// after all retries.
	ErrUpstreamUnavailable = errors.New("embedding endpoint unavailable")

	// ErrDimensionMismatch indicates the endpoint returned vectors of a
	// different dimension than the store was migrated with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint. Empty disables embedding
	// generation; the daemon then serves lexical and graph retrieval only.
	BaseURL string `koanf:"base_url" json:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model" json:"model"`

	// APIKey authenticates against the endpoint. Optional for local
	// servers such as TEI.
	APIKey string `koanf:"api_key" json:"-"`

	// Dimension is the expected vector width. Must match the store's
	// embedding column.
	Dimension int `koanf:"dimension" json:"dimension"`

	// RequestsPerSecond caps outbound embedding calls.
	RequestsPerSecond float64 `koanf:"requests_per_second" json:"requests_per_second"`

	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `koanf:"max_retries" json:"max_retries"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return c.BaseURL != "" }

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension <= 0 {
		c.Dimension = 1536
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration for a service that will actually be
// constructed. Call Enabled first; a disabled config is not an error.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}
