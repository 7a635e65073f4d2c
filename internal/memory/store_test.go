package memory_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/registry"
	"github.com/mnemolabs/recalld/internal/tenant"
)

func TestSaveRejectsEmptyContent(t *testing.T) {
	// Content validation runs before the transaction is touched.
	mems := memory.NewStore(zap.NewNop())
	_, err := mems.Save(context.Background(), nil, memory.Draft{Content: "   "})
	require.Error(t, err)
}

// testStore connects to the database named by DATABASE_URL and applies
// migrations, skipping the test when no database is reachable.
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

// makeTenant registers a tenant at the given level and walks its
// enforcement phase forward to the requested one.
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

func saveIn(t *testing.T, store *postgres.Store, mems *memory.Store, tc tenant.Context, d memory.Draft) memory.Record {
	t.Helper()
	var rec memory.Record
	require.NoError(t, store.WithTenant(context.Background(), tc, func(ctx context.Context, tx *postgres.TenantTx) error {
		var err error
		rec, err = mems.Save(ctx, tx, d)
		return err
	}))
	return rec
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	mems := memory.NewStore(zap.NewNop())
	ctx := context.Background()

	owner := makeTenant(t, store, svc, "owner", tenant.AccessShared, enforcement.PhaseEnforcing)
	reader := makeTenant(t, store, svc, "reader", tenant.AccessShared, enforcement.PhaseEnforcing)
	stranger := makeTenant(t, store, svc, "stranger", tenant.AccessIsolated, enforcement.PhaseEnforcing)
	require.NoError(t, svc.Grant(ctx, owner, reader))

	ownerCtx := tenant.NewContext(owner, tenant.WithActor("tester"))
	readerCtx := tenant.NewContext(reader)
	strangerCtx := tenant.NewContext(stranger)

	getAs := func(tc tenant.Context, id uuid.UUID) (memory.Record, error) {
		var rec memory.Record
		err := store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
			var err error
			rec, err = mems.Get(ctx, tx, id)
			return err
		})
		return rec, err
	}
	listAs := func(tc tenant.Context, opts memory.ListOptions) []memory.Record {
		var recs []memory.Record
		require.NoError(t, store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
			var err error
			recs, err = mems.List(ctx, tx, opts)
			return err
		}))
		return recs
	}
	archiveAs := func(tc tenant.Context, id uuid.UUID) error {
		return store.WithTenant(ctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
			return mems.Archive(ctx, tx, id)
		})
	}

	embedding := []float32{0.5, 0.25, -1, 2, 0.125, 8, -0.75, 3}
	first := saveIn(t, store, mems, ownerCtx, memory.Draft{
		Content:   "postgres pool exhaustion fixed by raising max_conns",
		Source:    "cli",
		Tags:      []string{"go", "notes"},
		Metadata:  map[string]any{"kind": "note"},
		Embedding: embedding,
	})
	second := saveIn(t, store, mems, ownerCtx, memory.Draft{
		Content: "weekly sync covered the retrieval rollout",
		Source:  "api",
		Tags:    []string{"notes"},
	})
	scratch := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "scratch entry"})

	t.Run("owner reads fields back", func(t *testing.T) {
		got, err := getAs(ownerCtx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, owner, got.Tenant)
		assert.Equal(t, "postgres pool exhaustion fixed by raising max_conns", got.Content)
		assert.Equal(t, "cli", got.Source)
		assert.Equal(t, []string{"go", "notes"}, got.Tags)
		assert.Equal(t, "note", got.Metadata["kind"])
		assert.Equal(t, embedding, got.Embedding)
		assert.False(t, got.CreatedAt.IsZero())
		assert.False(t, got.Archived())
	})

	t.Run("grantee reads the owner's rows", func(t *testing.T) {
		got, err := getAs(readerCtx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got.Tenant)

		recs := listAs(readerCtx, memory.ListOptions{})
		assert.Len(t, recs, 3)
	})

	t.Run("outsider sees not found", func(t *testing.T) {
		_, err := getAs(strangerCtx, first.ID)
		require.ErrorIs(t, err, memory.ErrNotFound)

		recs := listAs(strangerCtx, memory.ListOptions{})
		assert.Empty(t, recs)
	})

	t.Run("list filters", func(t *testing.T) {
		all := listAs(ownerCtx, memory.ListOptions{})
		require.Len(t, all, 3)

		byTag := listAs(ownerCtx, memory.ListOptions{Tags: []string{"notes"}})
		require.Len(t, byTag, 2)

		byTag = listAs(ownerCtx, memory.ListOptions{Tags: []string{"go"}})
		require.Len(t, byTag, 1)
		assert.Equal(t, first.ID, byTag[0].ID)

		bySource := listAs(ownerCtx, memory.ListOptions{Source: "api"})
		require.Len(t, bySource, 1)
		assert.Equal(t, second.ID, bySource[0].ID)

		limited := listAs(ownerCtx, memory.ListOptions{Limit: 1})
		assert.Len(t, limited, 1)
	})

	t.Run("archive is idempotent", func(t *testing.T) {
		require.NoError(t, archiveAs(ownerCtx, scratch.ID))
		once, err := getAs(ownerCtx, scratch.ID)
		require.NoError(t, err)
		require.True(t, once.Archived())

		require.NoError(t, archiveAs(ownerCtx, scratch.ID))
		twice, err := getAs(ownerCtx, scratch.ID)
		require.NoError(t, err)
		require.NotNil(t, twice.ArchivedAt)
		assert.True(t, once.ArchivedAt.Equal(*twice.ArchivedAt),
			"second archive keeps the original timestamp")

		active := listAs(ownerCtx, memory.ListOptions{})
		assert.Len(t, active, 2)
		everything := listAs(ownerCtx, memory.ListOptions{IncludeArchived: true})
		assert.Len(t, everything, 3)
	})

	t.Run("row writes stay inside the owning tenant", func(t *testing.T) {
		err := archiveAs(strangerCtx, first.ID)
		require.ErrorIs(t, err, memory.ErrNotFound,
			"a denial on an invisible row must not confirm the row exists")

		err = archiveAs(readerCtx, first.ID)
		require.ErrorIs(t, err, tenant.ErrAccessDenied,
			"grants authorize reads, never writes")
	})

	t.Run("delete removes the row", func(t *testing.T) {
		require.NoError(t, store.WithTenant(ctx, ownerCtx, func(ctx context.Context, tx *postgres.TenantTx) error {
			return mems.Delete(ctx, tx, second.ID)
		}))
		_, err := getAs(ownerCtx, second.ID)
		require.ErrorIs(t, err, memory.ErrNotFound)
	})
}

func TestShadowWritesAudit(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	mems := memory.NewStore(zap.NewNop())
	ctx := context.Background()

	actor := makeTenant(t, store, svc, "actor", tenant.AccessIsolated, enforcement.PhaseShadow)
	victim := makeTenant(t, store, svc, "victim", tenant.AccessIsolated, enforcement.PhasePending)

	actorCtx := tenant.NewContext(actor, tenant.WithActor("importer"), tenant.WithRequestID("req-1"))

	rec := saveIn(t, store, mems, actorCtx, memory.Draft{
		Tenant:  victim,
		Content: "imported on behalf of another tenant",
	})
	assert.Equal(t, victim, rec.Tenant)

	entries, err := store.Auditor().List(ctx, actor, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "one shadow violation, one audit entry")
	assert.Equal(t, actor, entries[0].Tenant)
	assert.Equal(t, victim, entries[0].TargetTenant)
	assert.Equal(t, "memory.save", entries[0].Operation)
	assert.Equal(t, "importer", entries[0].Actor)
	assert.Equal(t, "req-1", entries[0].RequestID)

	t.Run("own writes never audit", func(t *testing.T) {
		saveIn(t, store, mems, actorCtx, memory.Draft{Content: "own row"})
		entries, err := store.Auditor().List(ctx, actor, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("pending allows without auditing", func(t *testing.T) {
		victimCtx := tenant.NewContext(victim)
		saveIn(t, store, mems, victimCtx, memory.Draft{Tenant: actor, Content: "write back"})

		entries, err := store.Auditor().List(ctx, victim, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("enforcing blocks the same write", func(t *testing.T) {
		_, err := store.Phases().Advance(ctx, actor, enforcement.PhaseEnforcing, "test", "tighten")
		require.NoError(t, err)

		err = store.WithTenant(ctx, actorCtx, func(ctx context.Context, tx *postgres.TenantTx) error {
			_, err := mems.Save(ctx, tx, memory.Draft{Tenant: victim, Content: "blocked now"})
			return err
		})
		require.ErrorIs(t, err, tenant.ErrAccessDenied)

		entries, err := store.Auditor().List(ctx, actor, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "blocked writes are not audited")
	})
}

func TestLinkRequiresSameOwner(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	mems := memory.NewStore(zap.NewNop())
	ctx := context.Background()

	owner := makeTenant(t, store, svc, "owner", tenant.AccessIsolated, enforcement.PhasePending)
	other := makeTenant(t, store, svc, "other", tenant.AccessIsolated, enforcement.PhasePending)
	ownerCtx := tenant.NewContext(owner)

	rec := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "linked note"})

	insertNode := func(owner tenant.ID) uuid.UUID {
		id := uuid.New()
		require.NoError(t, store.WithAdmin(ctx, func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO graph_nodes (id, tenant_id, label, name) VALUES ($1, $2, $3, $4)`,
				id, string(owner), "service", "billing-"+id.String()[:8])
			return err
		}))
		return id
	}
	ownNode := insertNode(owner)
	foreignNode := insertNode(other)

	link := func(nodeID uuid.UUID) error {
		return store.WithTenant(ctx, ownerCtx, func(ctx context.Context, tx *postgres.TenantTx) error {
			return mems.Link(ctx, tx, rec.ID, nodeID)
		})
	}

	require.NoError(t, link(ownNode))
	require.NoError(t, link(ownNode), "relinking is idempotent")
	require.ErrorIs(t, link(foreignNode), memory.ErrNotFound)
	require.ErrorIs(t, link(uuid.New()), memory.ErrNotFound)
}

type stubEmbedder struct {
	dim   int
	calls int
	fail  bool
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("upstream down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = 0.5
		}
		out[i] = vec
	}
	return out, nil
}

func TestBackfillEmbeddings(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	mems := memory.NewStore(zap.NewNop())
	ctx := context.Background()

	owner := makeTenant(t, store, svc, "backfill", tenant.AccessIsolated, enforcement.PhasePending)
	ownerCtx := tenant.NewContext(owner)

	first := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "pending one"})
	second := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "pending two"})
	skipped := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "archived rows stay null"})
	require.NoError(t, store.WithTenant(ctx, ownerCtx, func(ctx context.Context, tx *postgres.TenantTx) error {
		return mems.Archive(ctx, tx, skipped.ID)
	}))

	embeddingIsNull := func(id uuid.UUID) bool {
		var isNull bool
		require.NoError(t, store.WithAdmin(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return tx.QueryRow(ctx, `SELECT embedding IS NULL FROM memories WHERE id = $1`, id).Scan(&isNull)
		}))
		return isNull
	}

	emb := &stubEmbedder{dim: 8}
	result, err := memory.BackfillEmbeddings(ctx, store, emb, 1, zap.NewNop())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Embedded, 2)
	assert.GreaterOrEqual(t, emb.calls, 2, "batch size 1 forces one call per row")

	assert.False(t, embeddingIsNull(first.ID))
	assert.False(t, embeddingIsNull(second.ID))
	assert.True(t, embeddingIsNull(skipped.ID))

	t.Run("embedder failure propagates", func(t *testing.T) {
		extra := saveIn(t, store, mems, ownerCtx, memory.Draft{Content: "will fail first"})

		_, err := memory.BackfillEmbeddings(ctx, store, &stubEmbedder{dim: 8, fail: true}, 16, zap.NewNop())
		require.Error(t, err)
		assert.True(t, embeddingIsNull(extra.ID))

		fixed, err := memory.BackfillEmbeddings(ctx, store, &stubEmbedder{dim: 8}, 16, zap.NewNop())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, fixed.Embedded, 1)
		assert.False(t, embeddingIsNull(extra.ID))
	})
}
