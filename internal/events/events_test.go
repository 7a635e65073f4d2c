package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestPublisherDeliversEvents(t *testing.T) {
	server := startTestNATSServer(t)

	pub, err := Connect(Config{Enabled: true, URL: server.ClientURL(), SubjectPrefix: "recalld"}, nil)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("recalld.enforcement.transition", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	pub.Publish(SubjectPhaseChanged, PhaseChanged{
		Tenant: "acme",
		From:   "pending",
		To:     "shadow",
		At:     time.Now().UTC(),
	})

	select {
	case msg := <-received:
		var got PhaseChanged
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "acme", got.Tenant)
		assert.Equal(t, "pending", got.From)
		assert.Equal(t, "shadow", got.To)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublisherDisabledIsNoop(t *testing.T) {
	pub, err := Connect(Config{Enabled: false}, nil)
	require.NoError(t, err)

	// Must not panic or block.
	pub.Publish(SubjectTenantCreated, TenantCreated{Tenant: "acme"})
	pub.Close()
}

func TestPublisherNilIsSafe(t *testing.T) {
	var pub *Publisher
	pub.Publish(SubjectTenantCreated, TenantCreated{Tenant: "acme"})
	pub.Close()
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "recalld", cfg.SubjectPrefix)
}
