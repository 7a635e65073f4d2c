package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/logging"
	"github.com/mnemolabs/recalld/internal/retrieval"
)

type retrieveInput struct {
	TenantID   string             `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor      string             `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID  string             `json:"request_id,omitempty" jsonschema:"Correlation id"`
	Query      string             `json:"query,omitempty" jsonschema:"Query text for the lexical and vector channels"`
	GraphSeeds []string           `json:"graph_seeds,omitempty" jsonschema:"Node names seeding the graph channel"`
	K          int                `json:"k,omitempty" jsonschema:"Results to return (default 10 and capped at 100)"`
	Weights    *retrieval.Weights `json:"weights,omitempty" jsonschema:"Channel weights that must sum to 1"`
}

type retrieveResult struct {
	ID       string   `json:"id" jsonschema:"Memory identifier"`
	Tenant   string   `json:"tenant" jsonschema:"Owning tenant"`
	Content  string   `json:"content" jsonschema:"Stored content"`
	Source   string   `json:"source,omitempty" jsonschema:"Origin of the memory"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Tags"`
	Score    float64  `json:"score" jsonschema:"Fused relevance score"`
	Channels []string `json:"channels" jsonschema:"Channels that surfaced this record"`
}

type retrieveOutput struct {
	Results    []retrieveResult        `json:"results" jsonschema:"Ranked records"`
	Candidates retrieval.ChannelCounts `json:"candidates" jsonschema:"Per-channel candidate counts before fusion"`
	Degraded   []string                `json:"degraded,omitempty" jsonschema:"Channels that were requested but could not run"`
	Count      int                     `json:"count" jsonschema:"Number of results returned"`
}

func (s *Server) handleRetrieve(ctx context.Context, _ *mcp.CallToolRequest, args retrieveInput) (*mcp.CallToolResult, retrieveOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, retrieveOutput{}, err
	}

	q := retrieval.Query{
		Text:       args.Query,
		GraphSeeds: args.GraphSeeds,
		K:          args.K,
		Weights:    args.Weights,
	}

	// The query is embedded up front, outside any tenant transaction. A
	// failing endpoint downgrades the search instead of failing it; the
	// response then reports the vector channel as degraded.
	if s.embedder != nil && strings.TrimSpace(args.Query) != "" {
		vector, err := s.embedder.EmbedQuery(ctx, args.Query)
		if err != nil {
			s.logger.Warn("query embedding failed, searching without the vector channel",
				append(logging.ContextFields(ctx), zap.Error(err))...)
		} else {
			q.Embedding = vector
		}
	}

	resp, err := s.retriever.Search(ctx, tc, q)
	if err != nil {
		return nil, retrieveOutput{}, err
	}

	out := retrieveOutput{
		Results:    make([]retrieveResult, len(resp.Results)),
		Candidates: resp.Candidates,
		Degraded:   resp.Degraded,
		Count:      len(resp.Results),
	}
	for i, r := range resp.Results {
		out.Results[i] = retrieveResult{
			ID:       r.Record.ID.String(),
			Tenant:   r.Record.Tenant.String(),
			Content:  r.Record.Content,
			Source:   r.Record.Source,
			Tags:     r.Record.Tags,
			Score:    r.Score,
			Channels: r.Channels,
		}
	}
	return textResult("%d results", out.Count), out, nil
}

func (s *Server) registerRetrieveTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Hybrid search over memories: vector similarity, lexical match, and graph proximity fused into one ranking",
	}, instrument("retrieve", s.handleRetrieve))
}
