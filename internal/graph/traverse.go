package graph

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/mnemolabs/recalld/internal/tenant"
)

// neighborLoader supplies the adjacencies of a traversal frontier within
// one tenant's subgraph. The traversal core depends on this seam instead
// of SQL so it can be exercised against an in-memory graph.
type neighborLoader interface {
	adjacent(ctx context.Context, owner tenant.ID, frontier []uuid.UUID, relation string, dir Direction) ([]adjacency, error)
}

// adjacency is one traversable edge viewed from a frontier node.
type adjacency struct {
	from   uuid.UUID
	to     uuid.UUID
	weight float64
}

// visit records how a node was first reached: its hop depth, the
// cumulative weight of the best known path, and the predecessor on that
// path (uuid.Nil for seeds).
type visit struct {
	depth  int
	weight float64
	parent uuid.UUID
}

// traverse runs a bounded breadth-first search from seeds and returns the
// visit table. The worklist is explicit and every node enters the visited
// set exactly once, so cyclic graphs terminate and the depth bound holds
// mid-traversal. Fewer hops always win; among paths of equal length the
// higher cumulative weight wins, which makes the table double as
// shortest-path state.
func traverse(ctx context.Context, loader neighborLoader, owner tenant.ID, seeds []uuid.UUID, depth int, relation string, dir Direction) (map[uuid.UUID]visit, error) {
	visits := make(map[uuid.UUID]visit, len(seeds))
	frontier := make([]uuid.UUID, 0, len(seeds))
	for _, id := range seeds {
		if _, ok := visits[id]; ok {
			continue
		}
		visits[id] = visit{}
		frontier = append(frontier, id)
	}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		sortIDs(frontier)
		adj, err := loader.adjacent(ctx, owner, frontier, relation, dir)
		if err != nil {
			return nil, err
		}
		// Relaxation order must not depend on row order coming back from
		// the loader.
		sort.Slice(adj, func(i, j int) bool {
			if adj[i].from != adj[j].from {
				return lessID(adj[i].from, adj[j].from)
			}
			if adj[i].to != adj[j].to {
				return lessID(adj[i].to, adj[j].to)
			}
			return adj[i].weight > adj[j].weight
		})

		var next []uuid.UUID
		for _, a := range adj {
			from, ok := visits[a.from]
			if !ok {
				continue
			}
			cum := from.weight + a.weight
			cur, seen := visits[a.to]
			switch {
			case !seen:
				visits[a.to] = visit{depth: d, weight: cum, parent: a.from}
				next = append(next, a.to)
			case cur.depth == d && cum > cur.weight:
				// Same hop count through a heavier path. Nodes reached at
				// an earlier depth are final.
				visits[a.to] = visit{depth: d, weight: cum, parent: a.from}
			}
		}
		frontier = next
	}
	return visits, nil
}

// shortestPath picks the best reached target out of the visit table and
// walks parents back to a seed. Returns nil when no target was reached.
func shortestPath(visits map[uuid.UUID]visit, targets []uuid.UUID) []uuid.UUID {
	var (
		best  uuid.UUID
		bv    visit
		found bool
	)
	for _, id := range targets {
		v, ok := visits[id]
		if !ok {
			continue
		}
		better := !found ||
			v.depth < bv.depth ||
			(v.depth == bv.depth && v.weight > bv.weight) ||
			(v.depth == bv.depth && v.weight == bv.weight && lessID(id, best))
		if better {
			best, bv, found = id, v, true
		}
	}
	if !found {
		return nil
	}

	path := []uuid.UUID{best}
	for cur := visits[best]; cur.parent != uuid.Nil; cur = visits[cur.parent] {
		path = append(path, cur.parent)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func lessID(a, b uuid.UUID) bool { return bytes.Compare(a[:], b[:]) < 0 }

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}
