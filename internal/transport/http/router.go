// Package httptransport exposes the operational HTTP surface: liveness,
// readiness, Prometheus metrics, and the admin integrity endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covenant/pkg/platform/middleware/admin"
	"covenant/pkg/platform/middleware/metadata"
	"covenant/pkg/platform/middleware/requesttime"
)

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	AdminToken string
	Logger     *slog.Logger

	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the ops endpoints. Everything under /admin requires the
// admin token and an operator id.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsHandler := promhttp.Handler()
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
		ar.Post("/integrity/aggregates/{type}/{id}/verify", h.handleVerifyAggregate)
		ar.Post("/integrity/audit/verify", h.handleVerifyAdminAudit)
		ar.Get("/audit/report", h.handleAdminReport)
		ar.Post("/jobs/{name}/run", h.handleRunJob)
	})
	return r
}
