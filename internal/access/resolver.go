// Package access resolves tenant visibility and writability.
//
// The resolver is the single place that turns (acting tenant, access level,
// grants, enforcement phase) into a read predicate and a write verdict. It
// is pure: no database handles, no clocks, no globals. Storage layers call
// it with state they loaded inside the request transaction, so decisions
// are consistent with the data they gate.
package access

import (
	"fmt"
	"slices"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// Scope is the resolved visibility for one request. Built once per
// transaction from registry state and the acting tenant's phase.
type Scope struct {
	// Tenant is the acting tenant.
	Tenant tenant.ID

	// Level is the acting tenant's access level. Super scopes read every
	// tenant's rows; the filter methods below short-circuit on it.
	Level tenant.AccessLevel

	// ReadableFrom lists every tenant whose rows the actor may read under
	// grant resolution: the actor itself plus, for shared tenants, each
	// grantor. Sorted and deduplicated for deterministic SQL. Unused when
	// Level reads all tenants.
	ReadableFrom []tenant.ID

	// Phase is the acting tenant's enforcement phase at resolution time.
	Phase enforcement.Phase
}

// Decision is a write verdict.
type Decision struct {
	// Allowed reports whether the write may proceed.
	Allowed bool

	// Audit reports whether the write must produce a shadow audit entry.
	Audit bool

	// Reason is a short operator-facing explanation, set when the verdict
	// is anything other than a plain own-tenant allow.
	Reason string
}

// BuildScope resolves the acting tenant's visibility from its level,
// grants, and phase. Grants where the actor is not the grantee are ignored,
// and grants held by tenants whose level does not honor them (isolated,
// super) contribute nothing.
func BuildScope(tc tenant.Context, level tenant.AccessLevel, grants []tenant.Grant, phase enforcement.Phase) Scope {
	readable := []tenant.ID{tc.Tenant}

	if level.HonorsGrants() {
		for _, g := range grants {
			if g.Grantee != tc.Tenant || g.Grantor == tc.Tenant {
				continue
			}
			readable = append(readable, g.Grantor)
		}
	}

	slices.Sort(readable)
	readable = slices.Compact(readable)

	return Scope{
		Tenant:       tc.Tenant,
		Level:        level,
		ReadableFrom: readable,
		Phase:        phase,
	}
}

// ReadFilter returns a parameterized SQL predicate restricting rows to the
// scope's visibility, plus its arguments. Placeholders start at argOffset+1
// so the fragment composes with an existing argument list.
//
// Phases that do not filter reads get a TRUE predicate, as do super tenants
// in every phase. Arguments are passed separately; the fragment never
// interpolates tenant ids.
func (s Scope) ReadFilter(column string, argOffset int) (string, []any) {
	if !s.Phase.FiltersReads() || s.Level.ReadsAllTenants() {
		return "TRUE", nil
	}
	ids := make([]string, len(s.ReadableFrom))
	for i, id := range s.ReadableFrom {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s = ANY($%d)", column, argOffset+1), []any{ids}
}

// CanReadTenant reports whether rows owned by the target are visible.
func (s Scope) CanReadTenant(target tenant.ID) bool {
	if !s.Phase.FiltersReads() || s.Level.ReadsAllTenants() {
		return true
	}
	return slices.Contains(s.ReadableFrom, target)
}

// CheckWrite is the single write-verdict function. The acting tenant's own
// rows are writable in every phase, including unknown. No level or grant
// ever authorizes a cross-tenant write; the verdict depends only on the
// acting tenant's phase:
//
//	pending                 allow, no audit
//	shadow                  allow, audit
//	enforcing, complete     deny
//	unknown                 deny (fail closed)
func (s Scope) CheckWrite(target tenant.ID) Decision {
	if target == s.Tenant {
		return Decision{Allowed: true}
	}

	switch {
	case !s.Phase.Known():
		return Decision{Allowed: false, Reason: "enforcement phase unknown, failing closed"}
	case s.Phase.Enforces():
		return Decision{Allowed: false, Reason: fmt.Sprintf("cross-tenant write blocked in %s", s.Phase)}
	case s.Phase.Audits():
		return Decision{Allowed: true, Audit: true, Reason: "cross-tenant write audited in shadow"}
	default:
		return Decision{Allowed: true, Reason: "enforcement pending"}
	}
}

// DeniedError converts a deny verdict into the taxonomy error. Calling it
// on an allowed decision is a programming error and panics.
func (d Decision) DeniedError(target tenant.ID) error {
	if d.Allowed {
		panic("DeniedError called on an allowed decision")
	}
	return fmt.Errorf("%w: write to tenant %s (%s)", tenant.ErrAccessDenied, target, d.Reason)
}
