package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// AuditEntry records one would-be isolation violation observed in shadow
// phase. Entries carry enough to attribute the access without storing row
// contents.
type AuditEntry struct {
	ID           uuid.UUID
	Tenant       tenant.ID
	TargetTenant tenant.ID
	Operation    string
	Detail       string
	RequestID    string
	Actor        string
	At           time.Time
}

// NewAuditEntry builds an entry for the acting tenant touching the target.
func NewAuditEntry(tc tenant.Context, target tenant.ID, operation, detail string) AuditEntry {
	return AuditEntry{
		ID:           uuid.New(),
		Tenant:       tc.Tenant,
		TargetTenant: target,
		Operation:    operation,
		Detail:       detail,
		RequestID:    tc.RequestID,
		Actor:        tc.Actor,
		At:           time.Now().UTC(),
	}
}

// auditDB is the pool subset the auditor needs.
type auditDB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Auditor persists shadow-phase audit entries.
//
// Flush runs after the originating transaction commits, on its own pooled
// connection. A flush failure is logged and counted but never propagated:
// auditing must not affect the data plane.
type Auditor struct {
	db     auditDB
	logger *zap.Logger
	events *events.Publisher
}

// NewAuditor creates an audit sink over the given pool.
func NewAuditor(db auditDB, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{db: db, logger: logger}
}

// SetEvents wires an event publisher for flush notifications. Nil is fine.
func (a *Auditor) SetEvents(p *events.Publisher) { a.events = p }

// Flush writes the entries best-effort. It never returns an error.
func (a *Auditor) Flush(ctx context.Context, entries []AuditEntry) {
	if len(entries) == 0 {
		return
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO isolation_audit (id, tenant_id, target_tenant, operation, detail, request_id, actor, at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, string(e.Tenant), string(e.TargetTenant), e.Operation, e.Detail, e.RequestID, e.Actor, e.At,
		)
	}

	res := a.db.SendBatch(ctx, batch)
	defer func() { _ = res.Close() }()

	for range entries {
		if _, err := res.Exec(); err != nil {
			auditFlushFailures.Inc()
			a.logger.Warn("audit flush failed, entries dropped",
				zap.Int("entries", len(entries)), zap.Error(err))
			return
		}
	}
	auditEntriesWritten.Add(float64(len(entries)))
	a.events.Publish(events.SubjectAuditRecorded, events.AuditRecorded{
		Tenant:  string(entries[0].Tenant),
		Entries: len(entries),
		At:      time.Now().UTC(),
	})
}

// List returns entries for a tenant, newest first, bounded by limit.
func (a *Auditor) List(ctx context.Context, id tenant.ID, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.Query(ctx,
		`SELECT id, tenant_id, target_tenant, operation, detail, request_id, actor, at
		 FROM isolation_audit WHERE tenant_id = $1 ORDER BY at DESC LIMIT $2`,
		string(id), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var tid, target string
		if err := rows.Scan(&e.ID, &tid, &target, &e.Operation, &e.Detail, &e.RequestID, &e.Actor, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Tenant, e.TargetTenant = tenant.ID(tid), tenant.ID(target)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneBefore deletes entries older than cutoff and returns the count.
func (a *Auditor) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.db.Exec(ctx, `DELETE FROM isolation_audit WHERE at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		a.logger.Info("pruned audit entries", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
