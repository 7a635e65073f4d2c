// Package graph stores tenant-scoped typed nodes and weighted relations
// and answers bounded traversal queries. Traversal is always evaluated
// against one selected tenant's subgraph: it never crosses tenant
// boundaries, not even for tenants whose read scope spans everything.
package graph

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/recalld/internal/tenant"
)

var (
	// ErrNodeNotFound is returned by point lookups and row-addressed
	// deletes when the node does not exist or is outside the read scope.
	ErrNodeNotFound = errors.New("graph node not found")

	// ErrEdgeNotFound is the edge counterpart of ErrNodeNotFound.
	ErrEdgeNotFound = errors.New("graph edge not found")

	// ErrInvalidWeight rejects edge weights outside [0, 1].
	ErrInvalidWeight = errors.New("edge weight must be within [0, 1]")

	// ErrDepthLimitExceeded rejects traversal requests deeper than the
	// configured maximum. Depth is never silently clamped.
	ErrDepthLimitExceeded = errors.New("traversal depth exceeds the maximum")
)

// Node is a typed entity in one tenant's subgraph, unique per
// (tenant, label, name).
type Node struct {
	ID         uuid.UUID
	Tenant     tenant.ID
	Label      string
	Name       string
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Edge is a directed, weighted relation between two nodes of the same
// tenant, unique per (tenant, source, target, relation).
type Edge struct {
	ID         uuid.UUID
	Tenant     tenant.ID
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Relation   string
	Weight     float64
	Properties map[string]any
	CreatedAt  time.Time
}

// NodeDraft is the input to AddNode. An empty Tenant targets the acting
// tenant.
type NodeDraft struct {
	Tenant     tenant.ID
	Label      string
	Name       string
	Properties map[string]any
}

// EdgeDraft is the input to AddEdge. Endpoints are addressed by
// (label, name) and created when missing. A nil Weight defaults to 1.0.
type EdgeDraft struct {
	Tenant      tenant.ID
	SourceLabel string
	SourceName  string
	TargetLabel string
	TargetName  string
	Relation    string
	Weight      *float64
	Properties  map[string]any
}

// Neighbor is a node reached by traversal, with its hop distance from the
// nearest seed.
type Neighbor struct {
	Node     Node
	Distance int
}

// Path is a node sequence from a start node to an end node. Hops is the
// edge count and Weight the cumulative weight along the path.
type Path struct {
	Nodes  []Node
	Hops   int
	Weight float64
}

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// TraverseOptions tune Neighbors and FindPath. The zero value traverses
// the acting tenant's subgraph, one hop deep, in both directions.
type TraverseOptions struct {
	// Tenant selects the subgraph to traverse, defaulting to the acting
	// tenant. A tenant outside the read scope behaves as empty.
	Tenant tenant.ID

	// Relation restricts traversal to edges of one relation when set.
	Relation string

	// Depth is how many hops Neighbors walks. Defaults to 1 and must not
	// exceed MaxDepth. FindPath ignores it and searches up to MaxDepth.
	Depth int

	// MaxDepth bounds any traversal. Defaults to 5.
	MaxDepth int

	// Direction defaults to DirectionBoth.
	Direction Direction

	// Limit caps the neighbor count returned. Defaults to 100, capped
	// at 500.
	Limit int
}

func (o *TraverseOptions) applyDefaults(acting tenant.ID) {
	if o.Tenant == "" {
		o.Tenant = acting
	}
	if o.Depth <= 0 {
		o.Depth = 1
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 5
	}
	if o.Direction == "" {
		o.Direction = DirectionBoth
	}
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

func (o TraverseOptions) validate() error {
	switch o.Direction {
	case DirectionOut, DirectionIn, DirectionBoth:
		return nil
	default:
		return fmt.Errorf("unknown traversal direction %q", o.Direction)
	}
}
