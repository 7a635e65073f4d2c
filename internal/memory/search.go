package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// Search queries skip the embedding column; candidate sets run to 2K rows
// per channel and the vectors are dead weight on the wire.
const searchColumns = `id, tenant_id, content, source, tags, metadata, created_at, updated_at, archived_at`

// VectorSearch returns the unarchived records closest to the query
// embedding by cosine distance, nearest first. Records without an
// embedding never match.
func (s *Store) VectorSearch(ctx context.Context, tx *postgres.TenantTx, embedding []float32, limit int) ([]Record, error) {
	if len(embedding) == 0 {
		return nil, errors.New("vector search needs a query embedding")
	}
	if limit <= 0 {
		limit = 20
	}

	filter, fargs := tx.ReadFilter("tenant_id", 1)
	args := append([]any{postgres.EncodeVector(embedding)}, fargs...)
	args = append(args, limit)

	rows, err := tx.Tx.Query(ctx, fmt.Sprintf(
		`SELECT `+searchColumns+` FROM memories
		 WHERE embedding IS NOT NULL AND archived_at IS NULL AND %s
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $%d`, filter, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return collectSearchRecords(rows)
}

// LexicalSearch ranks unarchived records by full-text relevance, best
// first. The 'simple' configuration mirrors the indexed content_tsv
// column: no language stemming, so multilingual content ranks on raw
// tokens.
func (s *Store) LexicalSearch(ctx context.Context, tx *postgres.TenantTx, text string, limit int) ([]Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("lexical search needs query text")
	}
	if limit <= 0 {
		limit = 20
	}

	filter, fargs := tx.ReadFilter("tenant_id", 1)
	args := append([]any{text}, fargs...)
	args = append(args, limit)

	rows, err := tx.Tx.Query(ctx, fmt.Sprintf(
		`SELECT `+searchColumns+` FROM memories
		 WHERE content_tsv @@ websearch_to_tsquery('simple', $1)
		   AND archived_at IS NULL AND %s
		 ORDER BY ts_rank(content_tsv, websearch_to_tsquery('simple', $1)) DESC, created_at DESC, id
		 LIMIT $%d`, filter, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()
	return collectSearchRecords(rows)
}

// LinkedRecord pairs a record with one graph node it is linked to. A
// record linked to several of the queried nodes appears once per node.
type LinkedRecord struct {
	Record Record
	NodeID uuid.UUID
}

// LinkedTo returns the unarchived records linked to any of the given
// graph nodes, within the read scope.
func (s *Store) LinkedTo(ctx context.Context, tx *postgres.TenantTx, nodeIDs []uuid.UUID) ([]LinkedRecord, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	filter, fargs := tx.ReadFilter("m.tenant_id", 1)
	args := append([]any{nodeIDs}, fargs...)

	rows, err := tx.Tx.Query(ctx, fmt.Sprintf(
		`SELECT m.id, m.tenant_id, m.content, m.source, m.tags, m.metadata,
		        m.created_at, m.updated_at, m.archived_at, l.node_id
		 FROM memory_links l
		 JOIN memories m ON m.id = l.memory_id
		 WHERE l.node_id = ANY($1) AND m.archived_at IS NULL AND %s
		 ORDER BY m.id, l.node_id`, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("linked records: %w", err)
	}
	defer rows.Close()

	var out []LinkedRecord
	for rows.Next() {
		var (
			lr  LinkedRecord
			tid string
		)
		if err := rows.Scan(&lr.Record.ID, &tid, &lr.Record.Content, &lr.Record.Source,
			&lr.Record.Tags, &lr.Record.Metadata, &lr.Record.CreatedAt,
			&lr.Record.UpdatedAt, &lr.Record.ArchivedAt, &lr.NodeID); err != nil {
			return nil, fmt.Errorf("scan linked record: %w", err)
		}
		lr.Record.Tenant = tenant.ID(tid)
		out = append(out, lr)
	}
	return out, rows.Err()
}

func collectSearchRecords(rows pgx.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var (
			rec Record
			tid string
		)
		if err := rows.Scan(&rec.ID, &tid, &rec.Content, &rec.Source, &rec.Tags,
			&rec.Metadata, &rec.CreatedAt, &rec.UpdatedAt, &rec.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		rec.Tenant = tenant.ID(tid)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
