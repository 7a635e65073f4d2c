package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/tenant"
)

const recordColumns = `id, tenant_id, content, source, tags, metadata, embedding::text, created_at, updated_at, archived_at`

// Store persists memory records inside tenant transactions.
type Store struct {
	logger *zap.Logger
}

// NewStore creates a memory store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Save inserts a record. The write targets the draft's tenant, defaulting
// to the acting tenant; cross-tenant drafts are subject to the enforcement
// phase and audited in shadow.
func (s *Store) Save(ctx context.Context, tx *postgres.TenantTx, d Draft) (Record, error) {
	if strings.TrimSpace(d.Content) == "" {
		return Record{}, errors.New("memory content must not be empty")
	}

	target := d.Tenant
	if target == "" {
		target = tx.Identity.Tenant
	}

	id := uuid.New()
	detail := fmt.Sprintf("save memory %s source=%q bytes=%d", id, d.Source, len(d.Content))
	if err := tx.RequireWrite(target, "memory.save", detail); err != nil {
		return Record{}, err
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	var emb any
	if len(d.Embedding) > 0 {
		emb = postgres.EncodeVector(d.Embedding)
	}

	rec := Record{
		ID:        id,
		Tenant:    target,
		Content:   d.Content,
		Source:    d.Source,
		Tags:      tags,
		Metadata:  meta,
		Embedding: d.Embedding,
	}
	err := tx.Tx.QueryRow(ctx,
		`INSERT INTO memories (id, tenant_id, content, source, tags, metadata, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		 RETURNING created_at, updated_at`,
		id, string(target), d.Content, d.Source, tags, meta, emb,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert memory: %w", err)
	}

	s.logger.Debug("memory saved",
		zap.String("memory", id.String()),
		zap.String("tenant", string(target)),
		zap.Bool("embedded", emb != nil))
	return rec, nil
}

// Get returns one record within the read scope. Absent and filtered-out
// rows both yield ErrNotFound.
func (s *Store) Get(ctx context.Context, tx *postgres.TenantTx, id uuid.UUID) (Record, error) {
	filter, fargs := tx.ReadFilter("tenant_id", 1)
	args := append([]any{id}, fargs...)

	row := tx.Tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = $1 AND `+filter, args...)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns records within the read scope, newest first.
func (s *Store) List(ctx context.Context, tx *postgres.TenantTx, opts ListOptions) ([]Record, error) {
	opts.applyDefaults()

	var (
		conds []string
		args  []any
	)
	if !opts.IncludeArchived {
		conds = append(conds, "archived_at IS NULL")
	}
	if len(opts.Tags) > 0 {
		args = append(args, opts.Tags)
		conds = append(conds, fmt.Sprintf("tags && $%d", len(args)))
	}
	if opts.Source != "" {
		args = append(args, opts.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}

	filter, fargs := tx.ReadFilter("tenant_id", len(args))
	conds = append(conds, filter)
	args = append(args, fargs...)

	args = append(args, opts.Limit, opts.Offset)
	sql := fmt.Sprintf(
		`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		recordColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := tx.Tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Archive soft-deletes a record. Archived records drop out of retrieval
// and default listings but remain addressable by id.
func (s *Store) Archive(ctx context.Context, tx *postgres.TenantTx, id uuid.UUID) error {
	owner, err := s.ownerOf(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.gateRowWrite(tx, owner, "memory.archive", fmt.Sprintf("archive memory %s", id)); err != nil {
		return err
	}

	tag, err := tx.Tx.Exec(ctx,
		`UPDATE memories SET archived_at = COALESCE(archived_at, now()), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archive memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record permanently. Links cascade.
func (s *Store) Delete(ctx context.Context, tx *postgres.TenantTx, id uuid.UUID) error {
	owner, err := s.ownerOf(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.gateRowWrite(tx, owner, "memory.delete", fmt.Sprintf("delete memory %s", id)); err != nil {
		return err
	}

	if _, err := tx.Tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// Link connects a record to a graph node so the retrieval engine's graph
// channel can reach it. Links bind rows of one tenant: a node owned by a
// different tenant than the memory is treated as absent.
func (s *Store) Link(ctx context.Context, tx *postgres.TenantTx, memoryID, nodeID uuid.UUID) error {
	owner, err := s.ownerOf(ctx, tx, memoryID)
	if err != nil {
		return err
	}

	var nodeOwner string
	err = tx.Tx.QueryRow(ctx,
		`SELECT tenant_id FROM graph_nodes WHERE id = $1`, nodeID).Scan(&nodeOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up node owner: %w", err)
	}
	if tenant.ID(nodeOwner) != owner {
		return ErrNotFound
	}

	detail := fmt.Sprintf("link memory %s to node %s", memoryID, nodeID)
	if err := s.gateRowWrite(tx, owner, "memory.link", detail); err != nil {
		return err
	}

	if _, err := tx.Tx.Exec(ctx,
		`INSERT INTO memory_links (memory_id, node_id, tenant_id) VALUES ($1, $2, $3)
		 ON CONFLICT (memory_id, node_id) DO NOTHING`,
		memoryID, nodeID, string(owner),
	); err != nil {
		return fmt.Errorf("link memory: %w", err)
	}
	return nil
}

// ownerOf reads a row's owning tenant without the read filter. The result
// is used only for the write gate; rows invisible to the actor still
// surface as ErrNotFound from there.
func (s *Store) ownerOf(ctx context.Context, tx *postgres.TenantTx, id uuid.UUID) (tenant.ID, error) {
	var owner string
	err := tx.Tx.QueryRow(ctx, `SELECT tenant_id FROM memories WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up memory owner: %w", err)
	}
	return tenant.ID(owner), nil
}

// gateRowWrite applies the write verdict for a row addressed by id. A
// denial against a row the actor cannot even read is reported as
// ErrNotFound so the error does not confirm the row exists.
func (s *Store) gateRowWrite(tx *postgres.TenantTx, owner tenant.ID, op, detail string) error {
	if err := tx.RequireWrite(owner, op, detail); err != nil {
		if errors.Is(err, tenant.ErrAccessDenied) && !tx.Scope.CanReadTenant(owner) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		tid   string
		emb   *string
		embed []float32
	)
	if err := row.Scan(&rec.ID, &tid, &rec.Content, &rec.Source, &rec.Tags,
		&rec.Metadata, &emb, &rec.CreatedAt, &rec.UpdatedAt, &rec.ArchivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, pgx.ErrNoRows
		}
		return Record{}, fmt.Errorf("scan memory: %w", err)
	}
	rec.Tenant = tenant.ID(tid)
	if emb != nil {
		var err error
		embed, err = postgres.DecodeVector(*emb)
		if err != nil {
			return Record{}, fmt.Errorf("memory %s: %w", rec.ID, err)
		}
		rec.Embedding = embed
	}
	return rec, nil
}
