// Package httpserver serves recalld's HTTP surface: the streamable MCP
// endpoint, health, and Prometheus metrics.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/config"
)

// Pinger reports whether the backing database is reachable. It is
// satisfied by *postgres.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wire the server's dependencies.
type Options struct {
	// Service is the name reported by /health.
	Service string

	// DB is pinged by /health. Required.
	DB Pinger

	// MCP is the streamable MCP handler mounted at /mcp. Required.
	MCP http.Handler

	// EmbeddingsEnabled is reported by /health so operators can tell a
	// disabled embedder from a broken one.
	EmbeddingsEnabled bool
}

// Server is the HTTP front of the daemon.
type Server struct {
	cfg    config.ServerConfig
	opts   Options
	echo   *echo.Echo
	logger *zap.Logger
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Database   string `json:"database"`
	Embeddings string `json:"embeddings"`
}

// New builds the server and registers its routes.
func New(cfg config.ServerConfig, opts Options, logger *zap.Logger) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("database pinger is required")
	}
	if opts.MCP == nil {
		return nil, fmt.Errorf("mcp handler is required")
	}
	if opts.Service == "" {
		opts.Service = "recalld"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	}))

	s := &Server{cfg: cfg, opts: opts, echo: e, logger: logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.Any("/mcp", echo.WrapHandler(s.opts.MCP))
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:     "ok",
		Service:    s.opts.Service,
		Database:   "ok",
		Embeddings: "disabled",
	}
	if s.opts.EmbeddingsEnabled {
		resp.Embeddings = "ok"
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.opts.DB.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// Start serves until ctx is canceled, then shuts down gracefully within
// the configured timeout. A clean shutdown returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		s.logger.Info("http server stopped")
		return http.ErrServerClosed
	}
}
