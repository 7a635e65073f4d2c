// Package mcp exposes recalld's memory, graph, and retrieval operations as
// MCP tools, over stdio or streamable HTTP.
//
// Every tool takes an explicit tenant_id naming the acting tenant; the
// server never infers tenancy from the transport. Administrative
// operations (tenant lifecycle, grants, enforcement phases) are not
// exposed here; they belong to the recallctl CLI.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/graph"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/retrieval"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// Config configures the MCP server identity.
type Config struct {
	// Name is the implementation name advertised to clients.
	Name string

	// Version is the advertised server version.
	Version string
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "recalld"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

// Embedder turns content and query text into vectors. It is satisfied by
// *embeddings.Service.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Server bridges MCP tool calls to the stores and the retrieval engine.
type Server struct {
	mcp       *mcp.Server
	store     *postgres.Store
	memories  *memory.Store
	graphs    *graph.Store
	retriever *retrieval.Engine

	// embedder is optional; without it memory_save leaves rows for
	// backfill and retrieve runs without the vector channel.
	embedder Embedder

	logger *zap.Logger
}

// NewServer builds the MCP server and registers all tools.
func NewServer(cfg Config, store *postgres.Store, memories *memory.Store, graphs *graph.Store, retriever *retrieval.Engine, embedder Embedder, logger *zap.Logger) (*Server, error) {
	cfg.applyDefaults()
	if store == nil {
		return nil, fmt.Errorf("postgres store is required")
	}
	if memories == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if graphs == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:     store,
		memories:  memories,
		graphs:    graphs,
		retriever: retriever,
		embedder:  embedder,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.registerMemoryTools()
	s.registerGraphTools()
	s.registerRetrieveTool()
}

// Run serves MCP on the stdio transport until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// HTTPHandler returns the streamable HTTP transport for mounting under the
// HTTP server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// instrument wraps a tool handler with invocation metrics.
func instrument[In, Out any](name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := observeTool(name)
		res, out, err := h(ctx, req, in)
		done(err)
		return res, out, err
	}
}

// tenantContext parses the acting tenant and attaches the identity to the
// context so downstream logging picks up the correlation fields.
func (s *Server) tenantContext(ctx context.Context, tenantID, actor, requestID string) (context.Context, tenant.Context, error) {
	id, err := tenant.ParseID(tenantID)
	if err != nil {
		return ctx, tenant.Context{}, fmt.Errorf("invalid tenant_id: %w", err)
	}
	tc := tenant.NewContext(id, tenant.WithActor(actor), tenant.WithRequestID(requestID))
	return tenant.IntoContext(ctx, tc), tc, nil
}

// parseOwner parses an optional owner tenant; empty means the acting
// tenant.
func parseOwner(raw string) (tenant.ID, error) {
	if raw == "" {
		return "", nil
	}
	id, err := tenant.ParseID(raw)
	if err != nil {
		return "", fmt.Errorf("invalid owner_tenant: %w", err)
	}
	return id, nil
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
