package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-authz/aegis/internal/audit"
	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/delegation"
	"github.com/aegis-authz/aegis/internal/observability"
	"github.com/aegis-authz/aegis/internal/policy"
	"github.com/aegis-authz/aegis/internal/sod"
	"github.com/aegis-authz/aegis/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	PolicyHandler     *policy.Handler
	DelegationHandler *delegation.Handler
	SoDHandler        *sod.Handler
	CatalogHandler    *catalog.Handler
	AuditHandler      *audit.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Aegis defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/authz", func(r chi.Router) {
		params.PolicyHandler.MountRoutes(r)
		r.Route("/delegations", params.DelegationHandler.MountRoutes)
		r.Route("/sod", params.SoDHandler.MountRoutes)
		r.Route("/catalog", params.CatalogHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
