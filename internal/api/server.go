// Package api exposes the operational status surface: health, stats,
// snapshot and custody listings, and prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodian/internal/detect"
	"custodian/internal/monitor"
	"custodian/internal/pipeline"
	"custodian/internal/snapshot"
	"custodian/internal/vault"
)

// Server serves the status API. Every endpoint is read-only; detection and
// preservation never depend on this surface being up.
type Server struct {
	r        *chi.Mux
	logger   *slog.Logger
	hostID   string
	mon      *monitor.Monitor
	detector *detect.Detector
	pipe     *pipeline.Pipeline
	engine   *snapshot.Engine
	vlt      *vault.Vault
}

// NewServer builds the router over the running components.
func NewServer(logger *slog.Logger, hostID string, mon *monitor.Monitor, detector *detect.Detector, pipe *pipeline.Pipeline, engine *snapshot.Engine, vlt *vault.Vault) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		logger:   logger.With("component", "api"),
		hostID:   hostID,
		mon:      mon,
		detector: detector,
		pipe:     pipe,
		engine:   engine,
		vlt:      vlt,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Get("/stats", s.getStats)
	s.r.Get("/incidents", s.getIncidents)
	s.r.Get("/snapshots", s.getSnapshots)
	s.r.Get("/custody", s.getCustody)
	s.r.Handle("/metrics", promhttp.Handler())
}

// Handler returns the http handler for the server.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	observed, flagged, suppressed := s.detector.Stats()
	processed, dropped := s.pipe.Stats()

	vaultStats, err := s.vlt.Stats()
	if err != nil {
		s.logger.Warn("vault stats unavailable", "error", err)
		vaultStats = map[string]any{"error": err.Error()}
	}

	s.writeJSON(w, map[string]any{
		"host_id":             s.hostID,
		"sources":             s.mon.Active(),
		"processes_observed":  observed,
		"threats_flagged":     flagged,
		"dedup_suppressed":    suppressed,
		"incidents_processed": processed,
		"queue_dropped":       dropped,
		"queue_depth":         s.pipe.Depth(),
		"vault":               vaultStats,
	})
}

func (s *Server) getIncidents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"incidents": s.pipe.Tickets()})
}

func (s *Server) getSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"snapshots": infos, "count": len(infos)})
}

func (s *Server) getCustody(w http.ResponseWriter, r *http.Request) {
	incidentID := r.URL.Query().Get("incident_id")

	var entries any
	var err error
	if incidentID != "" {
		entries, err = s.vlt.Custody(incidentID)
	} else {
		entries, err = s.vlt.Entries()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"entries": entries})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
