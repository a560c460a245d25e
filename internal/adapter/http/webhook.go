package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// githubDelivery holds the fields of a GitHub webhook payload that identify
// the affected issue or pull request.
type githubDelivery struct {
	Action     string `json:"action"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Issue *struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

// nudgeEvents are the GitHub events that can carry new feedback or a merge.
var nudgeEvents = map[string]bool{
	"issue_comment":               true,
	"pull_request":                true,
	"pull_request_review":         true,
	"pull_request_review_comment": true,
}

// HandleGitHubWebhook turns feedback-related deliveries into nudges.
// Signature checking happens in middleware.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	if event == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}
	if !nudgeEvents[event] {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	var d githubDelivery
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	number := 0
	switch {
	case d.PullRequest != nil:
		number = d.PullRequest.Number
	case d.Issue != nil:
		number = d.Issue.Number
	}
	if number == 0 || d.Repository.Name == "" {
		writeError(w, http.StatusBadRequest, "payload has no issue or pull request")
		return
	}

	slog.InfoContext(r.Context(), "webhook received",
		"event", event, "action", d.Action,
		"repo", d.Repository.Owner.Login+"/"+d.Repository.Name, "number", number)
	if h.Nudge != nil {
		h.Nudge(r, d.Repository.Owner.Login, d.Repository.Name, number)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "nudged"})
}
