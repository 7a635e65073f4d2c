package retrieval_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/graph"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/registry"
	"github.com/mnemolabs/recalld/internal/retrieval"
	"github.com/mnemolabs/recalld/internal/tenant"
)

func testStore(t *testing.T) *postgres.Store {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := postgres.New(ctx, postgres.Config{URL: url, EmbeddingDim: 8}, zap.NewNop())
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func testTenantID(t *testing.T, prefix string) tenant.ID {
	t.Helper()
	id, err := tenant.ParseID(fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()))
	require.NoError(t, err)
	return id
}

func makeTenant(t *testing.T, store *postgres.Store, svc *registry.Service, prefix string, level tenant.AccessLevel, phase enforcement.Phase) tenant.ID {
	t.Helper()
	ctx := context.Background()

	id := testTenantID(t, prefix)
	_, err := svc.CreateTenant(ctx, id, "", level)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, id, true) })

	if phase == enforcement.PhasePending {
		return id
	}
	for _, next := range []enforcement.Phase{enforcement.PhaseShadow, enforcement.PhaseEnforcing, enforcement.PhaseComplete} {
		_, err := store.Phases().Advance(ctx, id, next, "test", "test setup")
		require.NoError(t, err)
		if next == phase {
			break
		}
	}
	return id
}

type fixture struct {
	store  *postgres.Store
	svc    *registry.Service
	mems   *memory.Store
	graphs *graph.Store
	engine *retrieval.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := testStore(t)
	mems := memory.NewStore(zap.NewNop())
	graphs := graph.NewStore(zap.NewNop())
	return fixture{
		store:  store,
		svc:    registry.NewService(store.Pool(), zap.NewNop()),
		mems:   mems,
		graphs: graphs,
		engine: retrieval.New(store, mems, graphs, retrieval.Config{}, zap.NewNop()),
	}
}

func (f fixture) save(t *testing.T, tc tenant.Context, d memory.Draft) memory.Record {
	t.Helper()
	var rec memory.Record
	require.NoError(t, f.store.WithTenant(context.Background(), tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		rec, err = f.mems.Save(ctx, tx, d)
		return err
	}))
	return rec
}

func TestSearchLexicalRespectsIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	isoA := makeTenant(t, f.store, f.svc, "iso-a", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	isoB := makeTenant(t, f.store, f.svc, "iso-b", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	f.save(t, tenant.Context{Tenant: isoA}, memory.Draft{Content: "the secreta deployment token"})
	f.save(t, tenant.Context{Tenant: isoB}, memory.Draft{Content: "the secretb deployment token"})

	resp, err := f.engine.Search(ctx, tenant.Context{Tenant: isoA}, retrieval.Query{Text: "secretb"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "an isolated tenant must not retrieve another tenant's rows")
	assert.Zero(t, resp.Candidates.Lexical)
	assert.Equal(t, []string{retrieval.ChannelVector}, resp.Degraded,
		"text without an embedding answers lexically and reports the vector channel missing")

	resp, err = f.engine.Search(ctx, tenant.Context{Tenant: isoB}, retrieval.Query{Text: "secretb"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Candidates.Lexical)
	assert.Equal(t, []string{retrieval.ChannelLexical}, resp.Results[0].Channels)
	assert.Contains(t, resp.Results[0].Record.Content, "secretb")
}

func TestSearchSeesGrantedTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grantor := makeTenant(t, f.store, f.svc, "sm", tenant.AccessShared, enforcement.PhaseEnforcing)
	grantee := makeTenant(t, f.store, f.svc, "shared-x", tenant.AccessShared, enforcement.PhaseEnforcing)
	outsider := makeTenant(t, f.store, f.svc, "iso-c", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	require.NoError(t, f.svc.Grant(ctx, grantor, grantee))

	f.save(t, tenant.Context{Tenant: grantor}, memory.Draft{Content: "sharedfact rollout notes for q3"})

	resp, err := f.engine.Search(ctx, tenant.Context{Tenant: grantee}, retrieval.Query{Text: "sharedfact"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "a grant makes the grantor's rows readable")
	assert.Equal(t, grantor, resp.Results[0].Record.Tenant)

	resp, err = f.engine.Search(ctx, tenant.Context{Tenant: outsider}, retrieval.Query{Text: "sharedfact"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchFusesVectorAndLexical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Isolated and enforcing, so the counts below cannot be polluted by
	// rows other tests write into the same database.
	owner := makeTenant(t, f.store, f.svc, "hybrid", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	tc := tenant.Context{Tenant: owner}

	e1 := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	e2 := []float32{0, 1, 0, 0, 0, 0, 0, 0}
	recA := f.save(t, tc, memory.Draft{Content: "alpha beta gamma", Embedding: e1})
	recB := f.save(t, tc, memory.Draft{Content: "deltafix epsilon zeta", Embedding: e2})

	// recA wins the vector channel outright, but recB places in both
	// channels and reciprocal rank fusion rewards the consensus.
	resp, err := f.engine.Search(ctx, tc, retrieval.Query{Text: "deltafix", Embedding: e1})
	require.NoError(t, err)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, 2, resp.Candidates.Vector)
	assert.Equal(t, 1, resp.Candidates.Lexical)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, recB.ID, resp.Results[0].Record.ID)
	assert.Equal(t, []string{retrieval.ChannelVector, retrieval.ChannelLexical}, resp.Results[0].Channels)
	assert.Equal(t, recA.ID, resp.Results[1].Record.ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearchGraphChannelFindsLinkedMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := makeTenant(t, f.store, f.svc, "graphch", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	tc := tenant.Context{Tenant: owner}

	rec := f.save(t, tc, memory.Draft{Content: "billing outage runbook"})

	var nodeID uuid.UUID
	require.NoError(t, f.store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		node, err := f.graphs.AddNode(ctx, tx, graph.NodeDraft{Label: "service", Name: "billing"})
		if err != nil {
			return err
		}
		nodeID = node.ID
		if _, err := f.graphs.AddEdge(ctx, tx, graph.EdgeDraft{
			SourceLabel: "service", SourceName: "billing",
			TargetLabel: "service", TargetName: "payments",
			Relation: "depends_on",
		}); err != nil {
			return err
		}
		return f.mems.Link(ctx, tx, rec.ID, nodeID)
	}))

	// Seeding from the neighboring node reaches billing at one hop and
	// surfaces the memory linked there.
	resp, err := f.engine.Search(ctx, tc, retrieval.Query{GraphSeeds: []string{"payments"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Degraded, "a query without text does not miss the vector channel")
	assert.Equal(t, 1, resp.Candidates.Graph)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, rec.ID, resp.Results[0].Record.ID)
	assert.Equal(t, []string{retrieval.ChannelGraph}, resp.Results[0].Channels)

	t.Run("unknown seed yields nothing", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, tc, retrieval.Query{GraphSeeds: []string{"no-such-node"}})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.Zero(t, resp.Candidates.Graph)
	})
}

func TestSearchRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := makeTenant(t, f.store, f.svc, "badq", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	tc := tenant.Context{Tenant: owner}

	_, err := f.engine.Search(ctx, tc, retrieval.Query{})
	assert.Error(t, err, "a query needs text, an embedding, or graph seeds")

	_, err = f.engine.Search(ctx, tc, retrieval.Query{
		Text:    "anything",
		Weights: &retrieval.Weights{Vector: 0.9, Lexical: 0.9},
	})
	assert.ErrorIs(t, err, retrieval.ErrInvalidWeights)

	_, err = f.engine.Search(ctx, tenant.Context{}, retrieval.Query{Text: "anything"})
	assert.Error(t, err)
}
