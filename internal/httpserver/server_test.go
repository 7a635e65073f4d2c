package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolabs/recalld/internal/config"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func testServer(t *testing.T, db Pinger, embeddings bool) *Server {
	t.Helper()
	mcpStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv, err := New(config.ServerConfig{HTTPAddr: ":0", ShutdownTimeout: time.Second}, Options{
		Service:           "recalld-test",
		DB:                db,
		MCP:               mcpStub,
		EmbeddingsEnabled: embeddings,
	}, nil)
	require.NoError(t, err)
	return srv
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(config.ServerConfig{}, Options{MCP: http.NotFoundHandler()}, nil)
	require.Error(t, err)

	_, err = New(config.ServerConfig{}, Options{DB: fakePinger{}}, nil)
	require.Error(t, err)
}

func TestHealthReportsOK(t *testing.T) {
	srv := testServer(t, fakePinger{}, true)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "recalld-test", body.Service)
	assert.Equal(t, "ok", body.Database)
	assert.Equal(t, "ok", body.Embeddings)
}

func TestHealthReportsDegradedDatabase(t *testing.T) {
	srv := testServer(t, fakePinger{err: errors.New("connection refused")}, false)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Database)
	assert.Equal(t, "disabled", body.Embeddings)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := testServer(t, fakePinger{}, false)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMCPMounted(t *testing.T) {
	srv := testServer(t, fakePinger{}, false)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	srv := testServer(t, fakePinger{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
