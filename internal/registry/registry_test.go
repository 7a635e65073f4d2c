package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/registry"
	"github.com/mnemolabs/recalld/internal/tenant"
)

func TestCreateTenantRejectsInvalidID(t *testing.T) {
	// Validation runs before any transaction, so no database is needed.
	svc := registry.NewService(nil, zap.NewNop())

	for _, raw := range []string{"", "UPPER", "-leading", "a b"} {
		_, err := svc.CreateTenant(context.Background(), tenant.ID(raw), "", tenant.AccessIsolated)
		require.ErrorIs(t, err, tenant.ErrInvalidTenant, "id %q", raw)
	}
}

func TestCreateTenantRejectsUnknownLevel(t *testing.T) {
	svc := registry.NewService(nil, zap.NewNop())

	for _, raw := range []string{"", "admin", "Super", "read_write"} {
		_, err := svc.CreateTenant(context.Background(), "acme", "", tenant.AccessLevel(raw))
		require.ErrorIs(t, err, tenant.ErrInvalidTenant, "level %q", raw)
	}
}

func TestGrantRejectsSelfGrant(t *testing.T) {
	svc := registry.NewService(nil, zap.NewNop())

	err := svc.Grant(context.Background(), "acme", "acme")
	require.ErrorIs(t, err, registry.ErrSelfGrant)
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

func TestRegistryRoundTrip(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	ctx := context.Background()

	acme := testTenantID(t, "acme")
	globex := testTenantID(t, "globex")

	created, err := svc.CreateTenant(ctx, acme, "Acme Corp", tenant.AccessShared)
	require.NoError(t, err)
	assert.Equal(t, acme, created.ID)
	assert.Equal(t, "Acme Corp", created.DisplayName)
	assert.Equal(t, tenant.AccessShared, created.Level)
	assert.Equal(t, enforcement.PhasePending, created.Phase)
	assert.False(t, created.CreatedAt.IsZero())
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, acme, true) })

	_, err = svc.CreateTenant(ctx, globex, "", tenant.AccessIsolated)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, globex, true) })

	t.Run("duplicate registration fails", func(t *testing.T) {
		_, err := svc.CreateTenant(ctx, acme, "Acme Again", tenant.AccessIsolated)
		require.ErrorIs(t, err, registry.ErrTenantExists)
	})

	t.Run("get returns level and phase", func(t *testing.T) {
		got, err := svc.GetTenant(ctx, acme)
		require.NoError(t, err)
		assert.Equal(t, tenant.AccessShared, got.Level)
		assert.Equal(t, enforcement.PhasePending, got.Phase)
		assert.Equal(t, "Acme Corp", got.DisplayName)
	})

	t.Run("get unknown tenant", func(t *testing.T) {
		_, err := svc.GetTenant(ctx, testTenantID(t, "ghost"))
		require.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("set access level", func(t *testing.T) {
		require.NoError(t, svc.SetAccessLevel(ctx, globex, tenant.AccessShared))
		got, err := svc.GetTenant(ctx, globex)
		require.NoError(t, err)
		assert.Equal(t, tenant.AccessShared, got.Level)

		require.NoError(t, svc.SetAccessLevel(ctx, globex, tenant.AccessIsolated))
		err = svc.SetAccessLevel(ctx, testTenantID(t, "ghost"), tenant.AccessShared)
		require.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("list includes both", func(t *testing.T) {
		all, err := svc.ListTenants(ctx)
		require.NoError(t, err)
		ids := make([]tenant.ID, 0, len(all))
		for _, tn := range all {
			ids = append(ids, tn.ID)
		}
		assert.Contains(t, ids, acme)
		assert.Contains(t, ids, globex)
	})

	t.Run("grant is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Grant(ctx, acme, globex))
		require.NoError(t, svc.Grant(ctx, acme, globex))

		recs, err := svc.ListGrants(ctx, globex)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, acme, recs[0].Grant.Grantor)
		assert.Equal(t, globex, recs[0].Grant.Grantee)
	})

	t.Run("grant to unknown tenant fails", func(t *testing.T) {
		err := svc.Grant(ctx, acme, testTenantID(t, "ghost"))
		require.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, acme, globex))
		require.NoError(t, svc.Revoke(ctx, acme, globex))

		recs, err := svc.ListGrants(ctx, globex)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("delete refuses unknown tenant", func(t *testing.T) {
		err := svc.DeleteTenant(ctx, testTenantID(t, "ghost"), false)
		require.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})
}

func TestInTxHelpers(t *testing.T) {
	store := testStore(t)
	svc := registry.NewService(store.Pool(), zap.NewNop())
	ctx := context.Background()

	acme := testTenantID(t, "acme")
	globex := testTenantID(t, "globex")

	_, err := svc.CreateTenant(ctx, acme, "", tenant.AccessSuper)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, acme, true) })

	_, err = svc.CreateTenant(ctx, globex, "", tenant.AccessShared)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, globex, true) })

	require.NoError(t, svc.Grant(ctx, acme, globex))

	tx, err := store.Pool().Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	ok, err := registry.Exists(ctx, tx, acme)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = registry.Exists(ctx, tx, testTenantID(t, "ghost"))
	require.NoError(t, err)
	assert.False(t, ok)

	level, err := registry.AccessLevelOf(ctx, tx, acme)
	require.NoError(t, err)
	assert.Equal(t, tenant.AccessSuper, level)

	_, err = registry.AccessLevelOf(ctx, tx, testTenantID(t, "ghost"))
	require.ErrorIs(t, err, tenant.ErrUnknownTenant)

	grants, err := registry.GrantsFor(ctx, tx, globex)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, acme, grants[0].Grantor)

	grants, err = registry.GrantsFor(ctx, tx, acme)
	require.NoError(t, err)
	assert.Empty(t, grants, "grantor role confers nothing")
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func awaitEvent(t *testing.T, msgs <-chan *nats.Msg, subject string, into any) {
	t.Helper()
	select {
	case msg := <-msgs:
		require.Equal(t, subject, msg.Subject)
		require.NoError(t, json.Unmarshal(msg.Data, into))
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s event received", subject)
	}
}

func TestRegistryPublishesEvents(t *testing.T) {
	store := testStore(t)
	server := startTestNATSServer(t)

	pub, err := events.Connect(events.Config{Enabled: true, URL: server.ClientURL(), SubjectPrefix: "recalld"}, nil)
	require.NoError(t, err)
	defer pub.Close()

	svc := registry.NewService(store.Pool(), zap.NewNop())
	svc.SetEvents(pub)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("recalld.>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	acme := testTenantID(t, "evt-a")
	globex := testTenantID(t, "evt-b")

	_, err = svc.CreateTenant(ctx, acme, "Acme Corp", tenant.AccessShared)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, acme, true) })

	var created events.TenantCreated
	awaitEvent(t, msgs, "recalld.tenant.created", &created)
	assert.Equal(t, string(acme), created.Tenant)
	assert.Equal(t, "Acme Corp", created.DisplayName)
	assert.Equal(t, "shared", created.AccessLevel)

	_, err = svc.CreateTenant(ctx, globex, "", tenant.AccessShared)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.DeleteTenant(ctx, globex, true) })
	awaitEvent(t, msgs, "recalld.tenant.created", &created)

	require.NoError(t, svc.Grant(ctx, acme, globex))
	var changed events.GrantChanged
	awaitEvent(t, msgs, "recalld.grant.changed", &changed)
	assert.Equal(t, string(acme), changed.Grantor)
	assert.Equal(t, string(globex), changed.Grantee)
	assert.Equal(t, "granted", changed.Action)

	require.NoError(t, svc.Revoke(ctx, acme, globex))
	awaitEvent(t, msgs, "recalld.grant.changed", &changed)
	assert.Equal(t, "revoked", changed.Action)
}
