package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/citadel-pam/citadel/internal/auth"
	"github.com/citadel-pam/citadel/internal/observability"
	"github.com/citadel-pam/citadel/internal/perms"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	AuthService  *auth.Service
	PermsHandler *perms.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Citadel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
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

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/perms/v1", func(r chi.Router) {
		if params.AuthService != nil {
			r.Use(auth.Middleware(params.AuthService, logger))
		}
		params.PermsHandler.MountRoutes(r)
	})

	return r
}
