package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/postgres"
)

// Embedder computes embeddings for stored content. Satisfied by
// *embeddings.Service.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Scanned  int
	Embedded int
}

// BackfillEmbeddings fills NULL embeddings across all tenants. It is the
// repair path for records whose embedding failed at save time: rows are
// read in batches, embedded outside any transaction, and written back with
// an embedding IS NULL guard so concurrent runs stay idempotent. A row is
// only ever updated with a real vector, never a placeholder.
//
// This is a control-plane operation and runs on admin transactions.
func BackfillEmbeddings(ctx context.Context, store *postgres.Store, embedder Embedder, batchSize int, logger *zap.Logger) (BackfillResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	var result BackfillResult
	for {
		type pending struct {
			id      uuid.UUID
			content string
		}
		var batch []pending

		err := store.WithAdmin(ctx, func(ctx context.Context, tx pgx.Tx) error {
			rows, err := tx.Query(ctx,
				`SELECT id, content FROM memories
				 WHERE embedding IS NULL AND archived_at IS NULL
				 ORDER BY created_at, id LIMIT $1`, batchSize)
			if err != nil {
				return fmt.Errorf("scan pending embeddings: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var p pending
				if err := rows.Scan(&p.id, &p.content); err != nil {
					return fmt.Errorf("scan pending row: %w", err)
				}
				batch = append(batch, p)
			}
			return rows.Err()
		})
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			return result, nil
		}
		result.Scanned += len(batch)

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.content
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return result, fmt.Errorf("embed batch of %d: %w", len(batch), err)
		}
		if len(vectors) != len(batch) {
			return result, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		var updated int64
		err = store.WithAdmin(ctx, func(ctx context.Context, tx pgx.Tx) error {
			b := &pgx.Batch{}
			for i, p := range batch {
				b.Queue(
					`UPDATE memories SET embedding = $2::vector, updated_at = now()
					 WHERE id = $1 AND embedding IS NULL`,
					p.id, postgres.EncodeVector(vectors[i]))
			}
			res := tx.SendBatch(ctx, b)
			defer func() { _ = res.Close() }()

			for range batch {
				tag, err := res.Exec()
				if err != nil {
					return fmt.Errorf("write embedding: %w", err)
				}
				updated += tag.RowsAffected()
			}
			return nil
		})
		if err != nil {
			return result, err
		}
		result.Embedded += int(updated)

		logger.Info("embedding backfill progress",
			zap.Int("scanned", result.Scanned), zap.Int("embedded", result.Embedded))
	}
}
