// Package retrieval merges up to three independently ranked candidate
// channels (vector similarity, full-text relevance, graph proximity) into
// one result list with reciprocal rank fusion. Every channel runs its own
// tenant transaction and applies the read filter in SQL, so a filtering
// bug in one channel can never leak a record through the merged list.
package retrieval

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mnemolabs/recalld/internal/memory"
)

// ErrInvalidWeights rejects fusion weights that are negative or do not
// sum to 1.
var ErrInvalidWeights = errors.New("retrieval weights must be non-negative and sum to 1")

// Channel names used in Response.Degraded, Result.Channels, and metrics.
const (
	ChannelVector  = "vector"
	ChannelLexical = "lexical"
	ChannelGraph   = "graph"
)

// Query is one retrieval request. Text drives the lexical channel, the
// precomputed Embedding drives the vector channel, and GraphSeeds (node
// names in the acting tenant's subgraph) drive the optional graph
// channel. At least one of the three must be present.
type Query struct {
	Text       string
	Embedding  []float32
	GraphSeeds []string

	// K is the result count, defaulting to the engine's DefaultK and
	// capped at MaxK. Channels each contribute up to 2K candidates.
	K int

	// Weights override the fusion weights. Nil uses DefaultWeights.
	Weights *Weights
}

// Weights distribute fusion mass across the channels. Channels that do
// not run give their mass to the remaining ones proportionally.
type Weights struct {
	Vector  float64 `json:"vector" koanf:"vector"`
	Lexical float64 `json:"lexical" koanf:"lexical"`
	Graph   float64 `json:"graph" koanf:"graph"`
}

// DefaultWeights lean on the vector channel, with lexical and graph
// splitting the rest.
var DefaultWeights = Weights{Vector: 0.6, Lexical: 0.2, Graph: 0.2}

// Validate checks the weights as provided by a caller, before any
// renormalization for absent channels.
func (w Weights) Validate() error {
	if w.Vector < 0 || w.Lexical < 0 || w.Graph < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	sum := w.Vector + w.Lexical + w.Graph
	if math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("%w: sum is %.3f", ErrInvalidWeights, sum)
	}
	return nil
}

// Result is one fused record with its score and the channels that
// surfaced it.
type Result struct {
	Record   memory.Record
	Score    float64
	Channels []string
}

// ChannelCounts report how many candidates each channel produced. A
// channel at zero is a diagnosable symptom, not proof of no data.
type ChannelCounts struct {
	Vector  int `json:"vector"`
	Lexical int `json:"lexical"`
	Graph   int `json:"graph"`
}

// Response carries the fused results plus the metadata callers need to
// tell a full answer from a degraded one.
type Response struct {
	Results    []Result
	Candidates ChannelCounts

	// Degraded lists the channels that should have contributed but could
	// not (failed, timed out, or missing a query embedding). Empty means
	// full fidelity.
	Degraded []string
}

// Config tunes the engine.
type Config struct {
	// DefaultK is used when a query does not set K. Defaults to 10.
	DefaultK int `koanf:"default_k"`

	// MaxK caps K. Defaults to 100.
	MaxK int `koanf:"max_k"`

	// ChannelTimeout bounds each channel's transaction. Defaults to 2s.
	ChannelTimeout time.Duration `koanf:"channel_timeout"`

	// GraphDepth is how far the graph channel walks from the seed nodes.
	// Defaults to 2.
	GraphDepth int `koanf:"graph_depth"`
}

func (c *Config) ApplyDefaults() {
	if c.DefaultK <= 0 {
		c.DefaultK = 10
	}
	if c.MaxK <= 0 {
		c.MaxK = 100
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 2 * time.Second
	}
	if c.GraphDepth <= 0 {
		c.GraphDepth = 2
	}
}
