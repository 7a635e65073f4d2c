package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/mnemolabs/recalld/internal/access"
	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// TenantTx is a transaction scoped to one tenant request. It carries the
// resolved access scope and collects shadow audit entries for post-commit
// flushing. Stores receive it instead of a bare pgx.Tx so every query has
// the scope at hand.
type TenantTx struct {
	Tx       pgx.Tx
	Identity tenant.Context
	Scope    access.Scope

	audits []enforcement.AuditEntry
}

// Audit queues a shadow audit entry for post-commit flushing.
func (t *TenantTx) Audit(e enforcement.AuditEntry) {
	t.audits = append(t.audits, e)
}

// ReadFilter returns the scope's parameterized visibility predicate for the
// given column, with placeholders starting after argOffset.
func (t *TenantTx) ReadFilter(column string, argOffset int) (string, []any) {
	return t.Scope.ReadFilter(column, argOffset)
}

// RequireWrite applies the write verdict for the target tenant. Denials
// return ErrAccessDenied; shadow-phase cross-tenant writes are allowed and
// queued for audit. This is the single write gate used by every store.
func (t *TenantTx) RequireWrite(target tenant.ID, operation, detail string) error {
	d := t.Scope.CheckWrite(target)
	if !d.Allowed {
		enforcement.ViolationsObserved.
			WithLabelValues(string(t.Scope.Phase), operation, "blocked").Inc()
		return d.DeniedError(target)
	}
	if d.Audit {
		enforcement.ViolationsObserved.
			WithLabelValues(string(t.Scope.Phase), operation, "audited").Inc()
		t.Audit(enforcement.NewAuditEntry(t.Identity, target, operation, detail))
	}
	return nil
}
