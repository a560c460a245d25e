package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/IssueForge/internal/middleware"
)

// MountRoutes registers the status routes on r. The webhook route is only
// mounted when a secret is configured.
func MountRoutes(r chi.Router, h *Handlers, webhookSecret string) {
	r.Get("/health", h.HandleHealth)
	r.Get("/session", h.HandleSession)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
	if webhookSecret != "" {
		r.With(middleware.WebhookHMAC(webhookSecret, middleware.HeaderGitHubSignature)).
			Post("/webhooks/github", h.HandleGitHubWebhook)
	}
}
