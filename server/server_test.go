package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/config"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Output = "stderr"

	srv, err := New(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	return srv, mux
}

func TestNew_Defaults(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.manager)
	assert.NotNil(t, srv.store)
	assert.NotNil(t, srv.scrape)
	assert.Nil(t, srv.sweeper)
	assert.Nil(t, srv.relay)
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Type = "dynamo"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_SweeperEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.SLA.Enabled = true

	srv, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, srv.sweeper)
}

func TestRoutes_Health(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRoutes_Metrics(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRoutes_TransitionRoundTrip(t *testing.T) {
	_, mux := newTestServer(t)

	body := `{
		"activity": "Start Scoping Phase",
		"target": "in_progress",
		"actor_id": "user-7",
		"role": "tester"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/cycles/2026-Q1/reports/rpt-1/phases/scoping/transition", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles/2026-Q1/reports/rpt-1/phases/scoping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Start Scoping Phase"`)
	assert.Contains(t, rec.Body.String(), `"completed"`)
}
