package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/agents"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/engine"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
)

func newTestServer(t *testing.T, adminKey string) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Seed = 7
	cfg.Robot.Count = 3
	cfg.Arena.FoodCount = 12
	cfg.Arena.Distribution = "random"
	cfg.Detection.Enabled = false

	reg := registry.NewMemory(engine.NewArena(cfg).Nest, cfg.Forage.PheromoneThreshold)
	sim, err := engine.NewSimulation(context.Background(), cfg, reg)
	require.NoError(t, err)
	t.Cleanup(sim.Close)
	return &Server{Sim: sim, AdminKey: adminKey}
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, s.Sim.RunID, st.RunID)
	assert.Equal(t, 3, st.Robots)
	assert.Equal(t, 12, st.Registry.Food)
}

func TestRobotEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/robots", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var robots []agents.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &robots))
	assert.Len(t, robots, 3)

	rec = do(t, h, http.MethodGet, "/api/v1/robots?faulty=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	robots = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &robots))
	assert.Empty(t, robots)

	rec = do(t, h, http.MethodGet, "/api/v1/robots/fb02", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap agents.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "fb02", snap.ID)

	rec = do(t, h, http.MethodGet, "/api/v1/robots/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPheromonesEndpointEmpty(t *testing.T) {
	s := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/pheromones", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestFaultEndpointAuth(t *testing.T) {
	body := `{"robot":"fb01","code":1}`

	disabled := newTestServer(t, "")
	rec := do(t, disabled.Handler(), http.MethodPost, "/api/v1/fault", body, "anything")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s := newTestServer(t, "secret")
	h := s.Handler()
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/fault", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/fault", body, "wrong").Code)
}

func TestFaultEndpoint(t *testing.T) {
	s := newTestServer(t, "secret")
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/fault", `{"robot":"fb01","code":1}`, "secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap agents.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "C_BIAS", snap.Fault)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown robot", `{"robot":"fb99","code":1}`, http.StatusNotFound},
		{"bad code", `{"robot":"fb02","code":9}`, http.StatusBadRequest},
		{"bad json", `{"robot":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, do(t, h, http.MethodPost, "/api/v1/fault", tc.body, "secret").Code)
		})
	}
}

func TestFaultEndpointRateLimited(t *testing.T) {
	s := newTestServer(t, "secret")
	s.faultLimiter = NewRateLimiter(1, time.Minute)
	h := s.Handler()

	body := `{"robot":"fb01","code":1}`
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/fault", body, "secret").Code)

	rec := do(t, h, http.MethodPost, "/api/v1/fault", body, "secret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per client")
	assert.Greater(t, rl.RetryAfter("10.0.0.1"), 0)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:5555"
	assert.Equal(t, "192.0.2.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.9 , 10.0.0.1")
	assert.Equal(t, "198.51.100.9", clientIP(req))
}
