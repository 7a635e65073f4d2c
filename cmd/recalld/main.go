// Recalld is a multi-tenant memory daemon speaking MCP.
//
// The daemon serves memory, graph, and hybrid retrieval tools over a
// streamable HTTP endpoint (plus /health and /metrics), or over stdio
// with --stdio for direct client launches.
//
// Configuration is loaded from a YAML file and RECALLD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld
//
//	# Explicit config file, stdio transport
//	recalld --config /etc/recalld/config.yaml --stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/config"
	"github.com/mnemolabs/recalld/internal/embeddings"
	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/graph"
	"github.com/mnemolabs/recalld/internal/httpserver"
	"github.com/mnemolabs/recalld/internal/logging"
	"github.com/mnemolabs/recalld/internal/mcp"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/retrieval"
	"github.com/mnemolabs/recalld/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/recalld/config.yaml)")
	stdio := flag.Bool("stdio", false, "serve MCP on stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld            Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *stdio); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("recalld: %v", err)
	}
}

func printVersion() {
	fmt.Printf("recalld\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes every dependency and blocks until ctx is canceled:
// config, logger, telemetry, Postgres (with migrations), NATS, the
// embedding client, the stores, the retrieval engine, and finally the
// MCP server on the chosen transport.
func run(ctx context.Context, configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting recalld",
		zap.String("version", version),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Bool("stdio", stdio),
		zap.Bool("embeddings", cfg.Embeddings.Enabled()),
		zap.Bool("events", cfg.Events.Enabled))

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := postgres.New(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	publisher, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer publisher.Close()
	store.Phases().SetEvents(publisher)
	store.Auditor().SetEvents(publisher)

	memories := memory.NewStore(logger)
	graphs := graph.NewStore(logger)
	engine := retrieval.New(store, memories, graphs, cfg.Retrieval, logger)

	// The embedder is optional. An unreachable endpoint at boot only
	// degrades saves and searches, but an endpoint of the wrong width
	// would fill the table with unusable vectors, so that fails here.
	var embedder mcp.Embedder
	if cfg.Embeddings.Enabled() {
		svc, err := embeddings.New(cfg.Embeddings, logger)
		if err != nil {
			return fmt.Errorf("init embeddings: %w", err)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		dim, err := svc.Probe(probeCtx)
		cancel()
		switch {
		case err != nil:
			logger.Warn("embedding endpoint unreachable, saves will be queued for backfill",
				zap.String("base_url", cfg.Embeddings.BaseURL), zap.Error(err))
		case dim != cfg.Embeddings.Dimension:
			return fmt.Errorf("embedding endpoint returns %d-dimensional vectors, config expects %d", dim, cfg.Embeddings.Dimension)
		default:
			logger.Info("embedding endpoint probed",
				zap.String("model", cfg.Embeddings.Model), zap.Int("dimension", dim))
		}
		embedder = svc
	}

	mcpServer, err := mcp.NewServer(mcp.Config{Name: "recalld", Version: version},
		store, memories, graphs, engine, embedder, logger)
	if err != nil {
		return fmt.Errorf("init mcp server: %w", err)
	}

	if stdio {
		return mcpServer.Run(ctx)
	}

	srv, err := httpserver.New(cfg.Server, httpserver.Options{
		Service:           cfg.Telemetry.ServiceName,
		DB:                store,
		MCP:               mcpServer.HTTPHandler(),
		EmbeddingsEnabled: cfg.Embeddings.Enabled(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}
	return srv.Start(ctx)
}
