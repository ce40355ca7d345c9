package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurostream-systems/neurostream/internal/handlers"
)

// NewRouter constructs a ServeMux with ingestion API routes registered.
func NewRouter(h *handlers.IngestHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sources", h.Sources)
	mux.HandleFunc("/api/v1/sources/", h.Source)
	mux.HandleFunc("/api/v1/batch", h.Batch)
	mux.HandleFunc("/api/v1/health", h.Health)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
