package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/funnel/pkg/config"
	"github.com/tarsy-oss/funnel/pkg/discovery"
)

func newTestServer() *Server {
	gin.SetMode(gin.TestMode)
	disco := discovery.New(discovery.Config{
		DiscoveryPort:    19999,
		DiscoveryTimeout: 20 * time.Millisecond,
		TTL:              time.Minute,
	})

	s := &Server{
		cfg:       config.ServerConfig{ListenAddr: ":0", ShutdownTimeout: time.Second},
		driverCfg: config.DriverConfig{MaxSteps: 8},
		discovery: disco,
		sessions:  newSessionStore(),
		router:    gin.New(),
	}
	s.router.Use(recovery(), requestLogger())
	s.registerRoutes()
	return s
}

func TestHandleCreateTask_RejectsMissingFields(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateTask_RejectsMalformedJSON(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth_ReportsDiscoveryCount(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHandleListAgents_EmptyCache(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"agents":[]}`, rec.Body.String())
}

func TestSessionStore_PreservesStateOnlyWhenRequested(t *testing.T) {
	store := newSessionStore()

	first := store.get("sess-1", true)
	first.SetUserInfo("name", "ada")

	reused := store.get("sess-1", true)
	assert.Same(t, first, reused)

	fresh := store.get("sess-1", false)
	assert.NotSame(t, first, fresh)
}
