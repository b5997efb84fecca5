// Package httpapi assembles the HTTP surface: middleware chain, feature
// routes, health, and metrics. Business logic stays in the feature services.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fides/internal/platform/middleware"
	"fides/internal/verification/handler"
)

// Deps carries everything the router mounts.
type Deps struct {
	Verification *handler.Handler
	Authority    *middleware.TokenAuthority
	Logger       *slog.Logger
}

// NewRouter wires the middleware chain and all endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.Verification.Register(r, middleware.RequireOperator(deps.Authority, deps.Logger))

	return r
}
