package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/snapfind/internal/api/middleware"
	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	IdentifyHandler http.HandlerFunc
	SearchHandler   http.HandlerFunc
	FindHandler     http.HandlerFunc

	ListProviders  http.HandlerFunc
	EnableProvider http.HandlerFunc

	ListCredentials  http.HandlerFunc
	SetCredential    http.HandlerFunc
	DeleteCredential http.HandlerFunc

	UsageHandler http.HandlerFunc

	ListTags       http.HandlerFunc
	CreateTag      http.HandlerFunc
	ActivateTag    http.HandlerFunc
	DeleteTag      http.HandlerFunc
	DeactivateTags http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/identify", orNotImplemented(deps.IdentifyHandler))
		r.Post("/api/v1/search", orNotImplemented(deps.SearchHandler))
		r.Post("/api/v1/find", orNotImplemented(deps.FindHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/admin/providers", orNotImplemented(deps.ListProviders))
			r.Post("/api/v1/admin/providers/{vendor}/{model}/enable", orNotImplemented(deps.EnableProvider))

			r.Get("/api/v1/admin/credentials", orNotImplemented(deps.ListCredentials))
			r.Put("/api/v1/admin/credentials/{name}", orNotImplemented(deps.SetCredential))
			r.Delete("/api/v1/admin/credentials/{name}", orNotImplemented(deps.DeleteCredential))

			r.Get("/api/v1/admin/usage", orNotImplemented(deps.UsageHandler))

			r.Get("/api/v1/admin/tags", orNotImplemented(deps.ListTags))
			r.Post("/api/v1/admin/tags", orNotImplemented(deps.CreateTag))
			r.Post("/api/v1/admin/tags/deactivate", orNotImplemented(deps.DeactivateTags))
			r.Post("/api/v1/admin/tags/{tagID}/activate", orNotImplemented(deps.ActivateTag))
			r.Delete("/api/v1/admin/tags/{tagID}", orNotImplemented(deps.DeleteTag))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
