package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/logging"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
)

// memoryView is the wire shape of a stored memory. Embeddings are elided;
// clients only need to know whether one exists.
type memoryView struct {
	ID           string         `json:"id" jsonschema:"Memory identifier"`
	Tenant       string         `json:"tenant" jsonschema:"Owning tenant"`
	Content      string         `json:"content" jsonschema:"Stored content"`
	Source       string         `json:"source,omitempty" jsonschema:"Origin of the memory"`
	Tags         []string       `json:"tags,omitempty" jsonschema:"Tags"`
	Metadata     map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata"`
	CreatedAt    time.Time      `json:"created_at" jsonschema:"Creation time"`
	UpdatedAt    time.Time      `json:"updated_at" jsonschema:"Last update time"`
	ArchivedAt   *time.Time     `json:"archived_at,omitempty" jsonschema:"Archival time if archived"`
	HasEmbedding bool           `json:"has_embedding" jsonschema:"Whether a vector embedding is stored"`
}

func toMemoryView(rec memory.Record) memoryView {
	return memoryView{
		ID:           rec.ID.String(),
		Tenant:       rec.Tenant.String(),
		Content:      rec.Content,
		Source:       rec.Source,
		Tags:         rec.Tags,
		Metadata:     rec.Metadata,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		ArchivedAt:   rec.ArchivedAt,
		HasEmbedding: len(rec.Embedding) > 0,
	}
}

type memorySaveInput struct {
	TenantID      string         `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor         string         `json:"actor,omitempty" jsonschema:"Calling principal recorded in audit entries"`
	RequestID     string         `json:"request_id,omitempty" jsonschema:"Correlation id for logs and audits"`
	Content       string         `json:"content" jsonschema:"required,Content to store"`
	Source        string         `json:"source,omitempty" jsonschema:"Origin of the memory"`
	Tags          []string       `json:"tags,omitempty" jsonschema:"Tags for filtering"`
	Metadata      map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata"`
	OwnerTenant   string         `json:"owner_tenant,omitempty" jsonschema:"Owner tenant for cross-tenant writes; defaults to the acting tenant"`
	SkipEmbedding bool           `json:"skip_embedding,omitempty" jsonschema:"Store without an embedding even when an embedder is configured"`
}

type memorySaveOutput struct {
	ID        string    `json:"id" jsonschema:"Memory identifier"`
	Tenant    string    `json:"tenant" jsonschema:"Owning tenant"`
	CreatedAt time.Time `json:"created_at" jsonschema:"Creation time"`
	Embedded  bool      `json:"embedded" jsonschema:"Whether an embedding was generated"`
}

func (s *Server) handleMemorySave(ctx context.Context, _ *mcp.CallToolRequest, args memorySaveInput) (*mcp.CallToolResult, memorySaveOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memorySaveOutput{}, err
	}
	owner, err := parseOwner(args.OwnerTenant)
	if err != nil {
		return nil, memorySaveOutput{}, err
	}

	// Embed before opening the tenant transaction so a slow endpoint
	// never holds a database connection.
	var embedding []float32
	if s.embedder != nil && !args.SkipEmbedding {
		vectors, err := s.embedder.EmbedBatch(ctx, []string{args.Content})
		if err != nil {
			s.logger.Warn("embedding failed, saving for backfill",
				append(logging.ContextFields(ctx), zap.Error(err))...)
		} else {
			embedding = vectors[0]
		}
	}

	var rec memory.Record
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		rec, err = s.memories.Save(ctx, tx, memory.Draft{
			Tenant:    owner,
			Content:   args.Content,
			Source:    args.Source,
			Tags:      args.Tags,
			Metadata:  args.Metadata,
			Embedding: embedding,
		})
		return err
	})
	if err != nil {
		return nil, memorySaveOutput{}, err
	}

	out := memorySaveOutput{
		ID:        rec.ID.String(),
		Tenant:    rec.Tenant.String(),
		CreatedAt: rec.CreatedAt,
		Embedded:  len(embedding) > 0,
	}
	return textResult("memory %s saved", out.ID), out, nil
}

type memoryGetInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	ID        string `json:"id" jsonschema:"required,Memory identifier"`
}

func (s *Server) handleMemoryGet(ctx context.Context, _ *mcp.CallToolRequest, args memoryGetInput) (*mcp.CallToolResult, memoryView, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memoryView{}, err
	}
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, memoryView{}, fmt.Errorf("invalid id: %w", err)
	}

	var rec memory.Record
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		rec, err = s.memories.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, memoryView{}, err
	}
	return textResult("memory %s", rec.ID), toMemoryView(rec), nil
}

type memoryListInput struct {
	TenantID        string   `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor           string   `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID       string   `json:"request_id,omitempty" jsonschema:"Correlation id"`
	Tags            []string `json:"tags,omitempty" jsonschema:"Keep records overlapping any of these tags"`
	Source          string   `json:"source,omitempty" jsonschema:"Keep records from one source"`
	IncludeArchived bool     `json:"include_archived,omitempty" jsonschema:"Include archived records"`
	Limit           int      `json:"limit,omitempty" jsonschema:"Maximum results to return (default 50)"`
	Offset          int      `json:"offset,omitempty" jsonschema:"Rows to skip for pagination"`
}

type memoryListOutput struct {
	Memories []memoryView `json:"memories" jsonschema:"Records visible to the acting tenant"`
	Count    int          `json:"count" jsonschema:"Number of records returned"`
}

func (s *Server) handleMemoryList(ctx context.Context, _ *mcp.CallToolRequest, args memoryListInput) (*mcp.CallToolResult, memoryListOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memoryListOutput{}, err
	}

	var recs []memory.Record
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		recs, err = s.memories.List(ctx, tx, memory.ListOptions{
			Tags:            args.Tags,
			Source:          args.Source,
			IncludeArchived: args.IncludeArchived,
			Limit:           args.Limit,
			Offset:          args.Offset,
		})
		return err
	})
	if err != nil {
		return nil, memoryListOutput{}, err
	}

	out := memoryListOutput{Memories: make([]memoryView, len(recs)), Count: len(recs)}
	for i, rec := range recs {
		out.Memories[i] = toMemoryView(rec)
	}
	return textResult("%d memories", out.Count), out, nil
}

type memoryArchiveInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	ID        string `json:"id" jsonschema:"required,Memory identifier"`
}

type memoryArchiveOutput struct {
	ID       string `json:"id" jsonschema:"Memory identifier"`
	Archived bool   `json:"archived" jsonschema:"Whether the record is archived"`
}

func (s *Server) handleMemoryArchive(ctx context.Context, _ *mcp.CallToolRequest, args memoryArchiveInput) (*mcp.CallToolResult, memoryArchiveOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memoryArchiveOutput{}, err
	}
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, memoryArchiveOutput{}, fmt.Errorf("invalid id: %w", err)
	}

	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		return s.memories.Archive(ctx, tx, id)
	})
	if err != nil {
		return nil, memoryArchiveOutput{}, err
	}
	out := memoryArchiveOutput{ID: id.String(), Archived: true}
	return textResult("memory %s archived", id), out, nil
}

type memoryDeleteInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	ID        string `json:"id" jsonschema:"required,Memory identifier"`
}

type memoryDeleteOutput struct {
	ID      string `json:"id" jsonschema:"Memory identifier"`
	Deleted bool   `json:"deleted" jsonschema:"Whether the record was deleted"`
}

func (s *Server) handleMemoryDelete(ctx context.Context, _ *mcp.CallToolRequest, args memoryDeleteInput) (*mcp.CallToolResult, memoryDeleteOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memoryDeleteOutput{}, err
	}
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, memoryDeleteOutput{}, fmt.Errorf("invalid id: %w", err)
	}

	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		return s.memories.Delete(ctx, tx, id)
	})
	if err != nil {
		return nil, memoryDeleteOutput{}, err
	}
	out := memoryDeleteOutput{ID: id.String(), Deleted: true}
	return textResult("memory %s deleted", id), out, nil
}

type memoryLinkInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	MemoryID  string `json:"memory_id" jsonschema:"required,Memory to link"`
	NodeID    string `json:"node_id" jsonschema:"required,Graph node to link to"`
}

type memoryLinkOutput struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory identifier"`
	NodeID   string `json:"node_id" jsonschema:"Node identifier"`
	Linked   bool   `json:"linked" jsonschema:"Whether the link exists"`
}

func (s *Server) handleMemoryLink(ctx context.Context, _ *mcp.CallToolRequest, args memoryLinkInput) (*mcp.CallToolResult, memoryLinkOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, memoryLinkOutput{}, err
	}
	memoryID, err := uuid.Parse(args.MemoryID)
	if err != nil {
		return nil, memoryLinkOutput{}, fmt.Errorf("invalid memory_id: %w", err)
	}
	nodeID, err := uuid.Parse(args.NodeID)
	if err != nil {
		return nil, memoryLinkOutput{}, fmt.Errorf("invalid node_id: %w", err)
	}

	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		return s.memories.Link(ctx, tx, memoryID, nodeID)
	})
	if err != nil {
		return nil, memoryLinkOutput{}, err
	}
	out := memoryLinkOutput{MemoryID: memoryID.String(), NodeID: nodeID.String(), Linked: true}
	return textResult("memory %s linked to node %s", memoryID, nodeID), out, nil
}

func (s *Server) registerMemoryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_save",
		Description: "Store a memory for a tenant, embedding it when an embedding endpoint is configured",
	}, instrument("memory_save", s.handleMemorySave))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one memory by id, subject to the acting tenant's read scope",
	}, instrument("memory_get", s.handleMemoryGet))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_list",
		Description: "List memories visible to the acting tenant, filtered by tags or source",
	}, instrument("memory_list", s.handleMemoryList))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_archive",
		Description: "Archive a memory so retrieval stops returning it; the row is kept",
	}, instrument("memory_archive", s.handleMemoryArchive))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_delete",
		Description: "Permanently delete a memory and its graph links",
	}, instrument("memory_delete", s.handleMemoryDelete))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_link",
		Description: "Link a memory to a graph node of the same tenant",
	}, instrument("memory_link", s.handleMemoryLink))
}
