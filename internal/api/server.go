// Package api provides the HTTP API for watching a swarm run.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/agents"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/engine"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
)

// Server serves the swarm state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	faultLimiter *RateLimiter
	srv          *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.faultLimiter == nil {
		s.faultLimiter = NewRateLimiter(30, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/robots", s.handleRobots)
	mux.HandleFunc("GET /api/v1/robots/{id}", s.handleRobot)
	mux.HandleFunc("GET /api/v1/pheromones", s.handlePheromones)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/fault", s.adminOnly(RateLimitMiddleware(s.faultLimiter, s.handleFault)))

	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no CPFA_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Sim.Status(r.Context())
	if err != nil {
		slog.Error("status failed", "error", err)
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	robots := s.Sim.Robots()

	// Optional filters: ?state=SEARCHING, ?faulty=true
	if state := strings.ToUpper(r.URL.Query().Get("state")); state != "" {
		kept := robots[:0]
		for _, rb := range robots {
			if rb.State == state {
				kept = append(kept, rb)
			}
		}
		robots = kept
	}
	if r.URL.Query().Get("faulty") == "true" {
		kept := robots[:0]
		for _, rb := range robots {
			if rb.FaultDetected {
				kept = append(kept, rb)
			}
		}
		robots = kept
	}
	writeJSON(w, robots)
}

func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Sim.Robot(r.PathValue("id"))
	if !ok {
		http.Error(w, "robot not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handlePheromones(w http.ResponseWriter, r *http.Request) {
	trails, err := s.Sim.Pheromones(r.Context())
	if err != nil {
		slog.Error("pheromone list failed", "error", err)
		http.Error(w, "pheromones unavailable", http.StatusInternalServerError)
		return
	}
	if trails == nil {
		trails = []registry.Pheromone{}
	}
	writeJSON(w, trails)
}

type faultRequest struct {
	Robot string `json:"robot"`
	Code  int    `json:"code"`
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	var req faultRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	err := s.Sim.InjectFault(req.Robot, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "robot not found", http.StatusNotFound)
		return
	case errors.Is(err, agents.ErrInvalidFaultCode), errors.Is(err, agents.ErrUnsupportedFault):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		slog.Error("fault injection failed", "robot", req.Robot, "error", err)
		http.Error(w, "fault injection failed", http.StatusInternalServerError)
		return
	}

	slog.Info("fault injected via API", "robot", req.Robot, "code", req.Code)
	snap, _ := s.Sim.Robot(req.Robot)
	writeJSON(w, snap)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
