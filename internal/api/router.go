package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/copilotmeter/internal/api/middleware"
	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	ListTenants      http.HandlerFunc
	CreateTenant     http.HandlerFunc
	DeleteTenant     http.HandlerFunc
	ActivateTenant   http.HandlerFunc
	DeactivateTenant http.HandlerFunc
	ListTeams        http.HandlerFunc

	Seats http.HandlerFunc
	Usage http.HandlerFunc

	RefreshStatus  http.HandlerFunc
	TriggerRefresh http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeRead))

			r.Get("/api/v1/tenants", orNotImplemented(deps.ListTenants))
			r.Get("/api/v1/tenants/teams", orNotImplemented(deps.ListTeams))
			r.Get("/api/v1/seats", orNotImplemented(deps.Seats))
			r.Get("/api/v1/usage", orNotImplemented(deps.Usage))
			r.Get("/api/v1/refresh/status", orNotImplemented(deps.RefreshStatus))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/tenants", orNotImplemented(deps.CreateTenant))
			r.Delete("/api/v1/tenants", orNotImplemented(deps.DeleteTenant))
			r.Post("/api/v1/tenants/activate", orNotImplemented(deps.ActivateTenant))
			r.Post("/api/v1/tenants/deactivate", orNotImplemented(deps.DeactivateTenant))
			r.Post("/api/v1/refresh", orNotImplemented(deps.TriggerRefresh))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
