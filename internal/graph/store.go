package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/tenant"
)

const (
	nodeColumns = `id, tenant_id, label, name, properties, created_at, updated_at`
	edgeColumns = `id, tenant_id, source_id, target_id, relation, weight::float8, properties, created_at`
)

// Store persists graph nodes and edges inside tenant transactions.
type Store struct {
	logger *zap.Logger
}

// NewStore creates a graph store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// AddNode upserts a node keyed by (tenant, label, name). Re-adding merges
// the draft's properties over the stored ones, so concurrent duplicates
// resolve to a single row either way.
func (s *Store) AddNode(ctx context.Context, tx *postgres.TenantTx, d NodeDraft) (Node, error) {
	d.Label = strings.TrimSpace(d.Label)
	d.Name = strings.TrimSpace(d.Name)
	if d.Label == "" || d.Name == "" {
		return Node{}, errors.New("node label and name must not be empty")
	}

	target := d.Tenant
	if target == "" {
		target = tx.Identity.Tenant
	}
	detail := fmt.Sprintf("add node %s/%s", d.Label, d.Name)
	if err := tx.RequireWrite(target, "graph.add_node", detail); err != nil {
		return Node{}, err
	}
	return s.upsertNode(ctx, tx, target, d)
}

// upsertNode writes a node without passing the write gate. Callers gate
// the logical operation once; AddEdge reuses this for its endpoints.
func (s *Store) upsertNode(ctx context.Context, tx *postgres.TenantTx, target tenant.ID, d NodeDraft) (Node, error) {
	props := d.Properties
	if props == nil {
		props = map[string]any{}
	}
	row := tx.Tx.QueryRow(ctx,
		`INSERT INTO graph_nodes (id, tenant_id, label, name, properties)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, label, name)
		 DO UPDATE SET properties = graph_nodes.properties || EXCLUDED.properties, updated_at = now()
		 RETURNING `+nodeColumns,
		uuid.New(), string(target), d.Label, d.Name, props)
	n, err := scanNode(row)
	if err != nil {
		return Node{}, fmt.Errorf("upsert node %s/%s: %w", d.Label, d.Name, err)
	}
	return n, nil
}

// AddEdge upserts a directed relation keyed by (tenant, source, target,
// relation), creating missing endpoints first. The weight must be within
// [0, 1]; invalid drafts fail before any endpoint is created.
func (s *Store) AddEdge(ctx context.Context, tx *postgres.TenantTx, d EdgeDraft) (Edge, error) {
	d.SourceLabel = strings.TrimSpace(d.SourceLabel)
	d.SourceName = strings.TrimSpace(d.SourceName)
	d.TargetLabel = strings.TrimSpace(d.TargetLabel)
	d.TargetName = strings.TrimSpace(d.TargetName)
	d.Relation = strings.TrimSpace(d.Relation)
	if d.SourceLabel == "" || d.SourceName == "" || d.TargetLabel == "" || d.TargetName == "" {
		return Edge{}, errors.New("edge endpoints need a label and a name")
	}
	if d.Relation == "" {
		return Edge{}, errors.New("edge relation must not be empty")
	}
	weight := 1.0
	if d.Weight != nil {
		weight = *d.Weight
	}
	if weight < 0 || weight > 1 {
		return Edge{}, fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	target := d.Tenant
	if target == "" {
		target = tx.Identity.Tenant
	}
	detail := fmt.Sprintf("add edge %s/%s -[%s]-> %s/%s",
		d.SourceLabel, d.SourceName, d.Relation, d.TargetLabel, d.TargetName)
	if err := tx.RequireWrite(target, "graph.add_edge", detail); err != nil {
		return Edge{}, err
	}

	src, err := s.upsertNode(ctx, tx, target, NodeDraft{Label: d.SourceLabel, Name: d.SourceName})
	if err != nil {
		return Edge{}, err
	}
	dst, err := s.upsertNode(ctx, tx, target, NodeDraft{Label: d.TargetLabel, Name: d.TargetName})
	if err != nil {
		return Edge{}, err
	}

	props := d.Properties
	if props == nil {
		props = map[string]any{}
	}
	row := tx.Tx.QueryRow(ctx,
		`INSERT INTO graph_edges (id, tenant_id, source_id, target_id, relation, weight, properties)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, source_id, target_id, relation)
		 DO UPDATE SET weight = EXCLUDED.weight, properties = graph_edges.properties || EXCLUDED.properties
		 RETURNING `+edgeColumns,
		uuid.New(), string(target), src.ID, dst.ID, d.Relation, weight, props)
	e, err := scanEdge(row)
	if err != nil {
		return Edge{}, fmt.Errorf("upsert edge: %w", err)
	}
	return e, nil
}

// GetNode returns one node of the selected tenant's subgraph. Nodes of
// tenants outside the read scope are reported as absent.
func (s *Store) GetNode(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, label, name string) (Node, error) {
	if owner == "" {
		owner = tx.Identity.Tenant
	}
	if !tx.Scope.CanReadTenant(owner) {
		return Node{}, ErrNodeNotFound
	}
	row := tx.Tx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE tenant_id = $1 AND label = $2 AND name = $3`,
		string(owner), label, name)
	return scanNode(row)
}

// Nodes lists the selected tenant's nodes, optionally restricted to one
// label, ordered by label then name.
func (s *Store) Nodes(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, label string, limit int) ([]Node, error) {
	if owner == "" {
		owner = tx.Identity.Tenant
	}
	if !tx.Scope.CanReadTenant(owner) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	args := []any{string(owner)}
	q := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE tenant_id = $1`
	if label != "" {
		args = append(args, label)
		q += fmt.Sprintf(` AND label = $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY label, name LIMIT $%d`, len(args))

	rows, err := tx.Tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node and, through the schema's cascades, its
// incident edges and memory links. Denied deletes of rows outside the
// read scope surface as ErrNodeNotFound.
func (s *Store) DeleteNode(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, label, name string) error {
	if owner == "" {
		owner = tx.Identity.Tenant
	}

	var id uuid.UUID
	err := tx.Tx.QueryRow(ctx,
		`SELECT id FROM graph_nodes WHERE tenant_id = $1 AND label = $2 AND name = $3`,
		string(owner), label, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("look up node: %w", err)
	}

	detail := fmt.Sprintf("delete node %s/%s", label, name)
	if err := tx.RequireWrite(owner, "graph.delete_node", detail); err != nil {
		if errors.Is(err, tenant.ErrAccessDenied) && !tx.Scope.CanReadTenant(owner) {
			return ErrNodeNotFound
		}
		return err
	}

	if _, err := tx.Tx.Exec(ctx, `DELETE FROM graph_nodes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// DeleteEdge removes one edge by id, leaving its endpoints in place.
func (s *Store) DeleteEdge(ctx context.Context, tx *postgres.TenantTx, id uuid.UUID) error {
	var ownerRaw string
	err := tx.Tx.QueryRow(ctx, `SELECT tenant_id FROM graph_edges WHERE id = $1`, id).Scan(&ownerRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEdgeNotFound
	}
	if err != nil {
		return fmt.Errorf("look up edge: %w", err)
	}
	owner := tenant.ID(ownerRaw)

	if err := tx.RequireWrite(owner, "graph.delete_edge", fmt.Sprintf("delete edge %s", id)); err != nil {
		if errors.Is(err, tenant.ErrAccessDenied) && !tx.Scope.CanReadTenant(owner) {
			return ErrEdgeNotFound
		}
		return err
	}

	if _, err := tx.Tx.Exec(ctx, `DELETE FROM graph_edges WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// Neighbors walks outward from every node carrying the seed name and
// returns the nodes reached within opts.Depth hops, nearest first. An
// unknown seed yields an empty result, not an error; asking for more
// depth than opts.MaxDepth fails with ErrDepthLimitExceeded.
func (s *Store) Neighbors(ctx context.Context, tx *postgres.TenantTx, seed string, opts TraverseOptions) ([]Neighbor, error) {
	opts.applyDefaults(tx.Identity.Tenant)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Depth > opts.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d > %d", ErrDepthLimitExceeded, opts.Depth, opts.MaxDepth)
	}
	if !tx.Scope.CanReadTenant(opts.Tenant) {
		return nil, nil
	}

	seeds, err := s.nodeIDsByName(ctx, tx, opts.Tenant, seed)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	visits, err := traverse(ctx, txLoader{tx}, opts.Tenant, seeds, opts.Depth, opts.Relation, opts.Direction)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(visits))
	for id, v := range visits {
		if v.depth == 0 {
			continue // seeds are not their own neighbors
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	nodes, err := s.nodesByID(ctx, tx, opts.Tenant, ids)
	if err != nil {
		return nil, err
	}
	neighbors := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		neighbors = append(neighbors, Neighbor{Node: n, Distance: visits[n.ID].depth})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		a, b := neighbors[i], neighbors[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Node.Label != b.Node.Label {
			return a.Node.Label < b.Node.Label
		}
		return a.Node.Name < b.Node.Name
	})
	if len(neighbors) > opts.Limit {
		neighbors = neighbors[:opts.Limit]
	}
	return neighbors, nil
}

// FindPath returns the shortest path by edge count between any node named
// start and any node named end, ties broken by higher cumulative weight.
// Unreachable within opts.MaxDepth returns (nil, nil).
func (s *Store) FindPath(ctx context.Context, tx *postgres.TenantTx, start, end string, opts TraverseOptions) (*Path, error) {
	opts.applyDefaults(tx.Identity.Tenant)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !tx.Scope.CanReadTenant(opts.Tenant) {
		return nil, nil
	}

	seeds, err := s.nodeIDsByName(ctx, tx, opts.Tenant, start)
	if err != nil {
		return nil, err
	}
	targets, err := s.nodeIDsByName(ctx, tx, opts.Tenant, end)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 || len(targets) == 0 {
		return nil, nil
	}

	visits, err := traverse(ctx, txLoader{tx}, opts.Tenant, seeds, opts.MaxDepth, opts.Relation, opts.Direction)
	if err != nil {
		return nil, err
	}
	ids := shortestPath(visits, targets)
	if ids == nil {
		return nil, nil
	}

	nodes, err := s.nodesByID(ctx, tx, opts.Tenant, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]Node, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}
	last := visits[ids[len(ids)-1]]
	return &Path{Nodes: ordered, Hops: last.depth, Weight: last.weight}, nil
}

// Reach returns every node id within depth hops of any node carrying one
// of the seed names, the seeds themselves included at distance zero. The
// retrieval engine's graph channel ranks linked records by these
// distances. Unknown seeds and unreadable tenants yield an empty map.
func (s *Store) Reach(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, seedNames []string, depth int) (map[uuid.UUID]int, error) {
	if owner == "" {
		owner = tx.Identity.Tenant
	}
	if depth <= 0 {
		depth = 1
	}
	if !tx.Scope.CanReadTenant(owner) {
		return nil, nil
	}

	var seeds []uuid.UUID
	for _, name := range seedNames {
		ids, err := s.nodeIDsByName(ctx, tx, owner, name)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, ids...)
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	visits, err := traverse(ctx, txLoader{tx}, owner, seeds, depth, "", DirectionBoth)
	if err != nil {
		return nil, err
	}
	reach := make(map[uuid.UUID]int, len(visits))
	for id, v := range visits {
		reach[id] = v.depth
	}
	return reach, nil
}

func (s *Store) nodeIDsByName(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, name string) ([]uuid.UUID, error) {
	rows, err := tx.Tx.Query(ctx,
		`SELECT id FROM graph_nodes WHERE tenant_id = $1 AND name = $2 ORDER BY label`,
		string(owner), name)
	if err != nil {
		return nil, fmt.Errorf("resolve nodes named %q: %w", name, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) nodesByID(ctx context.Context, tx *postgres.TenantTx, owner tenant.ID, ids []uuid.UUID) ([]Node, error) {
	rows, err := tx.Tx.Query(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE tenant_id = $1 AND id = ANY($2)`,
		string(owner), ids)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// txLoader answers traversal adjacency queries from the tenant
// transaction, one frontier per query via = ANY batching.
type txLoader struct {
	tx *postgres.TenantTx
}

func (l txLoader) adjacent(ctx context.Context, owner tenant.ID, frontier []uuid.UUID, relation string, dir Direction) ([]adjacency, error) {
	inFrontier := make(map[uuid.UUID]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}

	args := []any{string(owner), frontier}
	q := `SELECT source_id, target_id, weight::float8 FROM graph_edges WHERE tenant_id = $1 AND `
	switch dir {
	case DirectionOut:
		q += `source_id = ANY($2)`
	case DirectionIn:
		q += `target_id = ANY($2)`
	default:
		q += `(source_id = ANY($2) OR target_id = ANY($2))`
	}
	if relation != "" {
		args = append(args, relation)
		q += fmt.Sprintf(` AND relation = $%d`, len(args))
	}

	rows, err := l.tx.Tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load adjacency: %w", err)
	}
	defer rows.Close()

	var adj []adjacency
	for rows.Next() {
		var (
			src, dst uuid.UUID
			w        float64
		)
		if err := rows.Scan(&src, &dst, &w); err != nil {
			return nil, fmt.Errorf("scan adjacency: %w", err)
		}
		if (dir == DirectionOut || dir == DirectionBoth) && inFrontier[src] {
			adj = append(adj, adjacency{from: src, to: dst, weight: w})
		}
		if (dir == DirectionIn || dir == DirectionBoth) && inFrontier[dst] {
			adj = append(adj, adjacency{from: dst, to: src, weight: w})
		}
	}
	return adj, rows.Err()
}

func scanNode(row pgx.Row) (Node, error) {
	var (
		n   Node
		tid string
	)
	if err := row.Scan(&n.ID, &tid, &n.Label, &n.Name, &n.Properties, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNodeNotFound
		}
		return Node{}, fmt.Errorf("scan graph node: %w", err)
	}
	n.Tenant = tenant.ID(tid)
	return n, nil
}

func scanEdge(row pgx.Row) (Edge, error) {
	var (
		e   Edge
		tid string
	)
	if err := row.Scan(&e.ID, &tid, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &e.Properties, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Edge{}, ErrEdgeNotFound
		}
		return Edge{}, fmt.Errorf("scan graph edge: %w", err)
	}
	e.Tenant = tenant.ID(tid)
	return e, nil
}
