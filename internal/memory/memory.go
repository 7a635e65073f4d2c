// Package memory stores tenant-owned records: the content the retrieval
// engine ranks and the graph links to.
//
// Every operation takes a *postgres.TenantTx and goes through its read
// filter and write gate; there is no unfiltered query path. Point writes
// addressed by id (archive, delete, link) return ErrNotFound instead of
// ErrAccessDenied when the row is outside the actor's read visibility, so
// a denial never confirms that another tenant's row exists.
package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/recalld/internal/tenant"
)

// ErrNotFound is returned when a record, or the target of a link, is absent
// or outside the acting tenant's visibility. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("memory not found")

// Record is one stored memory.
type Record struct {
	ID        uuid.UUID
	Tenant    tenant.ID
	Content   string
	Source    string
	Tags      []string
	Metadata  map[string]any
	Embedding []float32

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Archived reports whether the record has been archived.
func (r Record) Archived() bool { return r.ArchivedAt != nil }

// Draft is the input to Save. Tenant is normally left empty and defaults
// to the acting tenant; setting it to another tenant makes the save a
// cross-tenant write subject to the enforcement phase. Embedding may be
// nil, leaving the row for backfill; it is never substituted with a
// placeholder vector.
type Draft struct {
	Tenant    tenant.ID
	Content   string
	Source    string
	Tags      []string
	Metadata  map[string]any
	Embedding []float32
}

// ListOptions narrows List. Zero values mean no constraint.
type ListOptions struct {
	// Limit caps the result count; defaults to 50, capped at 500.
	Limit int

	// Offset skips rows for pagination.
	Offset int

	// Tags keeps records overlapping any of the given tags.
	Tags []string

	// Source keeps records from one source.
	Source string

	// IncludeArchived includes archived records, excluded by default.
	IncludeArchived bool
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
