// Package server provides HTTP server setup for the Draftline service.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftline-systems/draftline/common/middleware"
	"github.com/draftline-systems/draftline/internal/handlers"
)

// NewRouter constructs a ServeMux with the Draftline API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.HandleFunc("/readyz", h.ReadyCheck)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Proposal routes
	mux.HandleFunc("/api/v1/proposals", h.ProposalsHandler)
	mux.HandleFunc("/api/v1/proposals/stats", h.StatsHandler)
	mux.HandleFunc("/api/v1/proposals/", h.ProposalHandler)

	// Rollback and merge observation routes
	mux.HandleFunc("/api/v1/rollbacks/", h.RollbackHandler)
	mux.HandleFunc("/api/v1/merges", h.MergesHandler)

	// Event log introspection (in-memory broker only)
	mux.HandleFunc("/api/v1/events", h.EventsHandler)

	return middleware.RequestID(mux)
}
