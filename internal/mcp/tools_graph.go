package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mnemolabs/recalld/internal/graph"
	"github.com/mnemolabs/recalld/internal/postgres"
)

type nodeView struct {
	ID         string         `json:"id" jsonschema:"Node identifier"`
	Tenant     string         `json:"tenant" jsonschema:"Owning tenant"`
	Label      string         `json:"label" jsonschema:"Node label"`
	Name       string         `json:"name" jsonschema:"Node name unique per tenant and label"`
	Properties map[string]any `json:"properties,omitempty" jsonschema:"Node properties"`
	CreatedAt  time.Time      `json:"created_at" jsonschema:"Creation time"`
	UpdatedAt  time.Time      `json:"updated_at" jsonschema:"Last update time"`
}

func toNodeView(n graph.Node) nodeView {
	return nodeView{
		ID:         n.ID.String(),
		Tenant:     n.Tenant.String(),
		Label:      n.Label,
		Name:       n.Name,
		Properties: n.Properties,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

type graphAddNodeInput struct {
	TenantID    string         `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor       string         `json:"actor,omitempty" jsonschema:"Calling principal recorded in audit entries"`
	RequestID   string         `json:"request_id,omitempty" jsonschema:"Correlation id"`
	Label       string         `json:"label" jsonschema:"required,Node label such as service or person"`
	Name        string         `json:"name" jsonschema:"required,Node name unique per tenant and label"`
	Properties  map[string]any `json:"properties,omitempty" jsonschema:"Properties merged into the node on re-add"`
	OwnerTenant string         `json:"owner_tenant,omitempty" jsonschema:"Owner tenant for cross-tenant writes; defaults to the acting tenant"`
}

func (s *Server) handleGraphAddNode(ctx context.Context, _ *mcp.CallToolRequest, args graphAddNodeInput) (*mcp.CallToolResult, nodeView, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, nodeView{}, err
	}
	owner, err := parseOwner(args.OwnerTenant)
	if err != nil {
		return nil, nodeView{}, err
	}

	var node graph.Node
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		node, err = s.graphs.AddNode(ctx, tx, graph.NodeDraft{
			Tenant:     owner,
			Label:      args.Label,
			Name:       args.Name,
			Properties: args.Properties,
		})
		return err
	})
	if err != nil {
		return nil, nodeView{}, err
	}
	return textResult("node %s/%s is %s", node.Label, node.Name, node.ID), toNodeView(node), nil
}

type graphAddEdgeInput struct {
	TenantID    string         `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor       string         `json:"actor,omitempty" jsonschema:"Calling principal recorded in audit entries"`
	RequestID   string         `json:"request_id,omitempty" jsonschema:"Correlation id"`
	SourceLabel string         `json:"source_label" jsonschema:"required,Label of the source node"`
	SourceName  string         `json:"source_name" jsonschema:"required,Name of the source node"`
	TargetLabel string         `json:"target_label" jsonschema:"required,Label of the target node"`
	TargetName  string         `json:"target_name" jsonschema:"required,Name of the target node"`
	Relation    string         `json:"relation" jsonschema:"required,Relation type such as depends_on"`
	Weight      *float64       `json:"weight,omitempty" jsonschema:"Edge weight between 0 and 1 (defaults to 1)"`
	Properties  map[string]any `json:"properties,omitempty" jsonschema:"Edge properties"`
	OwnerTenant string         `json:"owner_tenant,omitempty" jsonschema:"Owner tenant for cross-tenant writes; defaults to the acting tenant"`
}

type graphAddEdgeOutput struct {
	ID       string  `json:"id" jsonschema:"Edge identifier"`
	Tenant   string  `json:"tenant" jsonschema:"Owning tenant"`
	SourceID string  `json:"source_id" jsonschema:"Source node identifier"`
	TargetID string  `json:"target_id" jsonschema:"Target node identifier"`
	Relation string  `json:"relation" jsonschema:"Relation type"`
	Weight   float64 `json:"weight" jsonschema:"Edge weight"`
}

func (s *Server) handleGraphAddEdge(ctx context.Context, _ *mcp.CallToolRequest, args graphAddEdgeInput) (*mcp.CallToolResult, graphAddEdgeOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, graphAddEdgeOutput{}, err
	}
	owner, err := parseOwner(args.OwnerTenant)
	if err != nil {
		return nil, graphAddEdgeOutput{}, err
	}

	var edge graph.Edge
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		edge, err = s.graphs.AddEdge(ctx, tx, graph.EdgeDraft{
			Tenant:      owner,
			SourceLabel: args.SourceLabel,
			SourceName:  args.SourceName,
			TargetLabel: args.TargetLabel,
			TargetName:  args.TargetName,
			Relation:    args.Relation,
			Weight:      args.Weight,
			Properties:  args.Properties,
		})
		return err
	})
	if err != nil {
		return nil, graphAddEdgeOutput{}, err
	}

	out := graphAddEdgeOutput{
		ID:       edge.ID.String(),
		Tenant:   edge.Tenant.String(),
		SourceID: edge.SourceID.String(),
		TargetID: edge.TargetID.String(),
		Relation: edge.Relation,
		Weight:   edge.Weight,
	}
	return textResult("edge %s -[%s]-> %s", args.SourceName, args.Relation, args.TargetName), out, nil
}

type graphNeighborsInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	Name      string `json:"name" jsonschema:"required,Seed node name; all labels with that name seed the walk"`
	Tenant    string `json:"tenant,omitempty" jsonschema:"Tenant whose subgraph to traverse; defaults to the acting tenant"`
	Relation  string `json:"relation,omitempty" jsonschema:"Restrict traversal to one relation"`
	Depth     int    `json:"depth,omitempty" jsonschema:"Hops to walk (default 1)"`
	Direction string `json:"direction,omitempty" jsonschema:"Edge direction to follow: out or in or both (default both)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum neighbors to return (default 100)"`
}

type neighborView struct {
	ID         string         `json:"id" jsonschema:"Node identifier"`
	Label      string         `json:"label" jsonschema:"Node label"`
	Name       string         `json:"name" jsonschema:"Node name"`
	Properties map[string]any `json:"properties,omitempty" jsonschema:"Node properties"`
	Distance   int            `json:"distance" jsonschema:"Hop distance from the seed"`
}

type graphNeighborsOutput struct {
	Neighbors []neighborView `json:"neighbors" jsonschema:"Reached nodes ordered by distance"`
	Count     int            `json:"count" jsonschema:"Number of neighbors returned"`
}

func (s *Server) handleGraphNeighbors(ctx context.Context, _ *mcp.CallToolRequest, args graphNeighborsInput) (*mcp.CallToolResult, graphNeighborsOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, graphNeighborsOutput{}, err
	}
	owner, err := parseOwner(args.Tenant)
	if err != nil {
		return nil, graphNeighborsOutput{}, fmt.Errorf("invalid tenant: %w", err)
	}

	var neighbors []graph.Neighbor
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		neighbors, err = s.graphs.Neighbors(ctx, tx, args.Name, graph.TraverseOptions{
			Tenant:    owner,
			Relation:  args.Relation,
			Depth:     args.Depth,
			Direction: graph.Direction(args.Direction),
			Limit:     args.Limit,
		})
		return err
	})
	if err != nil {
		return nil, graphNeighborsOutput{}, err
	}

	out := graphNeighborsOutput{Neighbors: make([]neighborView, len(neighbors)), Count: len(neighbors)}
	for i, n := range neighbors {
		out.Neighbors[i] = neighborView{
			ID:         n.Node.ID.String(),
			Label:      n.Node.Label,
			Name:       n.Node.Name,
			Properties: n.Node.Properties,
			Distance:   n.Distance,
		}
	}
	return textResult("%d neighbors of %s", out.Count, args.Name), out, nil
}

type graphFindPathInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	From      string `json:"from" jsonschema:"required,Name of the start node"`
	To        string `json:"to" jsonschema:"required,Name of the end node"`
	Tenant    string `json:"tenant,omitempty" jsonschema:"Tenant whose subgraph to traverse; defaults to the acting tenant"`
	Relation  string `json:"relation,omitempty" jsonschema:"Restrict traversal to one relation"`
	MaxDepth  int    `json:"max_depth,omitempty" jsonschema:"Search depth bound (default 5)"`
	Direction string `json:"direction,omitempty" jsonschema:"Edge direction to follow: out or in or both (default both)"`
}

type pathNode struct {
	Label string `json:"label" jsonschema:"Node label"`
	Name  string `json:"name" jsonschema:"Node name"`
}

type graphFindPathOutput struct {
	Found  bool       `json:"found" jsonschema:"Whether a path exists within the depth bound"`
	Nodes  []pathNode `json:"nodes,omitempty" jsonschema:"Path from start to end inclusive"`
	Hops   int        `json:"hops,omitempty" jsonschema:"Edge count along the path"`
	Weight float64    `json:"weight,omitempty" jsonschema:"Cumulative edge weight along the path"`
}

func (s *Server) handleGraphFindPath(ctx context.Context, _ *mcp.CallToolRequest, args graphFindPathInput) (*mcp.CallToolResult, graphFindPathOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, graphFindPathOutput{}, err
	}
	owner, err := parseOwner(args.Tenant)
	if err != nil {
		return nil, graphFindPathOutput{}, fmt.Errorf("invalid tenant: %w", err)
	}

	var path *graph.Path
	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		path, err = s.graphs.FindPath(ctx, tx, args.From, args.To, graph.TraverseOptions{
			Tenant:    owner,
			Relation:  args.Relation,
			MaxDepth:  args.MaxDepth,
			Direction: graph.Direction(args.Direction),
		})
		return err
	})
	if err != nil {
		return nil, graphFindPathOutput{}, err
	}
	if path == nil {
		return textResult("no path from %s to %s", args.From, args.To), graphFindPathOutput{Found: false}, nil
	}

	out := graphFindPathOutput{
		Found:  true,
		Nodes:  make([]pathNode, len(path.Nodes)),
		Hops:   path.Hops,
		Weight: path.Weight,
	}
	for i, n := range path.Nodes {
		out.Nodes[i] = pathNode{Label: n.Label, Name: n.Name}
	}
	return textResult("path from %s to %s in %d hops", args.From, args.To, out.Hops), out, nil
}

type graphDeleteNodeInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal recorded in audit entries"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	Label     string `json:"label" jsonschema:"required,Node label"`
	Name      string `json:"name" jsonschema:"required,Node name"`
	Tenant    string `json:"tenant,omitempty" jsonschema:"Owning tenant; defaults to the acting tenant"`
}

type graphDeleteNodeOutput struct {
	Deleted bool `json:"deleted" jsonschema:"Whether the node and its edges were deleted"`
}

func (s *Server) handleGraphDeleteNode(ctx context.Context, _ *mcp.CallToolRequest, args graphDeleteNodeInput) (*mcp.CallToolResult, graphDeleteNodeOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, graphDeleteNodeOutput{}, err
	}
	owner, err := parseOwner(args.Tenant)
	if err != nil {
		return nil, graphDeleteNodeOutput{}, fmt.Errorf("invalid tenant: %w", err)
	}

	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		return s.graphs.DeleteNode(ctx, tx, owner, args.Label, args.Name)
	})
	if err != nil {
		return nil, graphDeleteNodeOutput{}, err
	}
	return textResult("node %s/%s deleted", args.Label, args.Name), graphDeleteNodeOutput{Deleted: true}, nil
}

type graphDeleteEdgeInput struct {
	TenantID  string `json:"tenant_id" jsonschema:"required,Acting tenant identifier"`
	Actor     string `json:"actor,omitempty" jsonschema:"Calling principal recorded in audit entries"`
	RequestID string `json:"request_id,omitempty" jsonschema:"Correlation id"`
	ID        string `json:"id" jsonschema:"required,Edge identifier"`
}

type graphDeleteEdgeOutput struct {
	Deleted bool `json:"deleted" jsonschema:"Whether the edge was deleted"`
}

func (s *Server) handleGraphDeleteEdge(ctx context.Context, _ *mcp.CallToolRequest, args graphDeleteEdgeInput) (*mcp.CallToolResult, graphDeleteEdgeOutput, error) {
	ctx, tc, err := s.tenantContext(ctx, args.TenantID, args.Actor, args.RequestID)
	if err != nil {
		return nil, graphDeleteEdgeOutput{}, err
	}
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, graphDeleteEdgeOutput{}, fmt.Errorf("invalid id: %w", err)
	}

	err = s.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		return s.graphs.DeleteEdge(ctx, tx, id)
	})
	if err != nil {
		return nil, graphDeleteEdgeOutput{}, err
	}
	return textResult("edge %s deleted", id), graphDeleteEdgeOutput{Deleted: true}, nil
}

func (s *Server) registerGraphTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_add_node",
		Description: "Create or update a graph node; re-adding merges properties",
	}, instrument("graph_add_node", s.handleGraphAddNode))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_add_edge",
		Description: "Create or update a weighted relation between two nodes, creating missing endpoints",
	}, instrument("graph_add_edge", s.handleGraphAddEdge))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_neighbors",
		Description: "Walk a tenant's subgraph from a named seed and return nodes by hop distance",
	}, instrument("graph_neighbors", s.handleGraphNeighbors))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_find_path",
		Description: "Find the shortest path between two named nodes within one tenant's subgraph",
	}, instrument("graph_find_path", s.handleGraphFindPath))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_delete_node",
		Description: "Delete a node and every edge touching it",
	}, instrument("graph_delete_node", s.handleGraphDeleteNode))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_delete_edge",
		Description: "Delete one edge by id",
	}, instrument("graph_delete_edge", s.handleGraphDeleteEdge))
}
