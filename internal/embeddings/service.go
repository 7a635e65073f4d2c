package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// embedderClient is the slice of langchaingo's Embedder the service uses.
// Tests substitute a fake; production wires the openai-backed embedder.
type embedderClient interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service generates embeddings against an OpenAI-compatible endpoint.
type Service struct {
	client  embedderClient
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Service from a validated, enabled configuration.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local TEI-style servers ignore it.
		apiKey = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	client, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}, nil
}

// Dimension returns the configured vector width.
func (s *Service) Dimension() int { return s.cfg.Dimension }

// EmbedBatch embeds texts in one upstream call and returns one vector per
// input, in order. It satisfies the backfill and save paths' embedder
// contract.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var vectors [][]float32
	err := s.withRetry(ctx, "batch", func(ctx context.Context) error {
		vs, err := s.client.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vs) != len(texts) {
			return fmt.Errorf("endpoint returned %d vectors for %d texts", len(vs), len(texts))
		}
		for _, v := range vs {
			if err := s.checkDimension(v); err != nil {
				return err
			}
		}
		vectors = vs
		return nil
	})
	if err != nil {
		return nil, err
	}
	textsTotal.Add(float64(len(texts)))
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	var vector []float32
	err := s.withRetry(ctx, "query", func(ctx context.Context) error {
		v, err := s.client.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if err := s.checkDimension(v); err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	textsTotal.Inc()
	return vector, nil
}

// Probe asks the endpoint for one vector and returns its width, so startup
// can fail loudly when the model and the store's embedding column disagree.
func (s *Service) Probe(ctx context.Context) (int, error) {
	var dim int
	err := s.withRetry(ctx, "probe", func(ctx context.Context) error {
		v, err := s.client.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			return err
		}
		dim = len(v)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dim, nil
}

func (s *Service) checkDimension(v []float32) error {
	if len(v) != s.cfg.Dimension {
		return fmt.Errorf("%w: endpoint returned %d, store expects %d",
			ErrDimensionMismatch, len(v), s.cfg.Dimension)
	}
	return nil
}

// withRetry runs op under the rate limiter and a per-attempt timeout,
// retrying transient failures with exponential backoff.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := func() error {
			attemptCtx := ctx
			if s.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
				defer cancel()
			}
			return fn(attemptCtx)
		}()
		requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			requestsTotal.WithLabelValues(op, "ok").Inc()
			if attempt > 0 {
				s.logger.Info("embedding endpoint recovered",
					zap.String("op", op),
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err
		requestsTotal.WithLabelValues(op, "error").Inc()

		// The caller going away and a misconfigured model are terminal;
		// everything else is worth another attempt.
		if ctx.Err() != nil {
			return fmt.Errorf("embedding %s canceled: %w", op, ctx.Err())
		}
		if errors.Is(err, ErrDimensionMismatch) {
			return err
		}
		if attempt == s.cfg.MaxRetries {
			break
		}

		s.logger.Debug("retrying embedding request",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("embedding %s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w",
		ErrUpstreamUnavailable, op, s.cfg.MaxRetries+1, lastErr)
}
