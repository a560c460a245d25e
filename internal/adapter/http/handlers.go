package http

import (
	"net/http"

	"github.com/Strob0t/IssueForge/internal/adapter/ws"
)

// NudgeFunc wakes a watching session for the given repository item.
type NudgeFunc func(r *http.Request, owner, repo string, number int)

// Handlers serves the status endpoints.
type Handlers struct {
	Version string
	// Status returns the current session snapshot.
	Status func() any
	Hub    *ws.Hub
	// Nudge is called for relevant webhook deliveries. Nil disables nudging.
	Nudge NudgeFunc
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

// HandleSession returns the current session snapshot.
func (h *Handlers) HandleSession(w http.ResponseWriter, _ *http.Request) {
	if h.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}
