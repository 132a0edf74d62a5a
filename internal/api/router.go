package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/nikhilbarthwal/triagent/internal/api/middleware"
	"github.com/nikhilbarthwal/triagent/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	ScanHandler      http.HandlerFunc
	ListQueueHandler http.HandlerFunc
	RemoveQueueEntry http.HandlerFunc
	AnalyzeIssue     http.HandlerFunc
	ListAnalyses     http.HandlerFunc
	GetAnalysis      http.HandlerFunc
	StreamAnalysis   http.HandlerFunc
	CancelAnalysis   http.HandlerFunc
	CreatePRHandler  http.HandlerFunc
	GetPRHandler     http.HandlerFunc
	StatsHandler     http.HandlerFunc
	BootstrapHandler http.HandlerFunc
	BootstrapStatus  http.HandlerFunc
	ListPatterns     http.HandlerFunc
	GitHubWebhook    http.HandlerFunc
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

	// Webhook deliveries authenticate via HMAC signature, not API keys
	r.Post("/api/v1/webhooks/github", orNotImplemented(deps.GitHubWebhook))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/scan", orNotImplemented(deps.ScanHandler))

		r.Get("/api/v1/queue", orNotImplemented(deps.ListQueueHandler))
		r.Delete("/api/v1/queue/{issueID}", orNotImplemented(deps.RemoveQueueEntry))
		r.Post("/api/v1/queue/{issueID}/analyze", orNotImplemented(deps.AnalyzeIssue))

		r.Get("/api/v1/analyses", orNotImplemented(deps.ListAnalyses))
		r.Get("/api/v1/analyses/{analysisID}", orNotImplemented(deps.GetAnalysis))
		r.Get("/api/v1/analyses/{analysisID}/stream", orNotImplemented(deps.StreamAnalysis))
		r.Post("/api/v1/analyses/{analysisID}/cancel", orNotImplemented(deps.CancelAnalysis))
		r.Post("/api/v1/analyses/{analysisID}/pr", orNotImplemented(deps.CreatePRHandler))
		r.Get("/api/v1/analyses/{analysisID}/pr", orNotImplemented(deps.GetPRHandler))

		r.Get("/api/v1/stats", orNotImplemented(deps.StatsHandler))
		r.Get("/api/v1/patterns", orNotImplemented(deps.ListPatterns))
		r.Post("/api/v1/bootstrap", orNotImplemented(deps.BootstrapHandler))
		r.Get("/api/v1/bootstrap/status", orNotImplemented(deps.BootstrapStatus))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

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
