package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/IssueForge/internal/middleware"
)

type nudge struct {
	owner, repo string
	number      int
}

func newTestRouter(t *testing.T, secret string) (http.Handler, *[]nudge) {
	t.Helper()
	var got []nudge
	h := &Handlers{
		Version: "test",
		Status:  func() any { return map[string]string{"state": "RUN_AGENT"} },
		Nudge: func(_ *http.Request, owner, repo string, number int) {
			got = append(got, nudge{owner, repo, number})
		},
	}
	return NewRouter(h, "issueforge-test", secret), &got
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestSessionSnapshot(t *testing.T) {
	r, _ := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RUN_AGENT") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSessionWithoutStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	(&Handlers{}).HandleSession(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookNotMountedWithoutSecret(t *testing.T) {
	r, _ := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 404 or 405", rec.Code)
	}
}

func postWebhook(r http.Handler, event, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	if sig != "" {
		req.Header.Set(middleware.HeaderGitHubSignature, sig)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	const secret = "s3cret"
	issueComment := `{"action":"created","repository":{"name":"widgets","owner":{"login":"acme"}},"issue":{"number":7}}`
	review := `{"action":"submitted","repository":{"name":"widgets","owner":{"login":"acme"}},"pull_request":{"number":12},"issue":null}`

	tests := []struct {
		name       string
		event      string
		body       string
		sign       bool
		wantStatus int
		wantNudge  *nudge
	}{
		{"issue comment", "issue_comment", issueComment, true, http.StatusAccepted, &nudge{"acme", "widgets", 7}},
		{"review", "pull_request_review", review, true, http.StatusAccepted, &nudge{"acme", "widgets", 12}},
		{"ping", "ping", `{}`, true, http.StatusOK, nil},
		{"ignored event", "push", `{}`, true, http.StatusAccepted, nil},
		{"missing number", "issue_comment", `{"repository":{"name":"widgets"}}`, true, http.StatusBadRequest, nil},
		{"bad json", "issue_comment", `{`, true, http.StatusBadRequest, nil},
		{"unsigned", "issue_comment", issueComment, false, http.StatusUnauthorized, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, got := newTestRouter(t, secret)
			sig := ""
			if tt.sign {
				sig = middleware.Sign([]byte(tt.body), secret)
			}
			rec := postWebhook(r, tt.event, tt.body, sig)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantNudge == nil {
				if len(*got) != 0 {
					t.Fatalf("unexpected nudges %v", *got)
				}
				return
			}
			if len(*got) != 1 || (*got)[0] != *tt.wantNudge {
				t.Fatalf("nudges = %v, want %v", *got, *tt.wantNudge)
			}
		})
	}
}

func TestWebhookWrongSignature(t *testing.T) {
	r, got := newTestRouter(t, "s3cret")
	body := `{"repository":{"name":"widgets","owner":{"login":"acme"}},"issue":{"number":7}}`
	rec := postWebhook(r, "issue_comment", body, middleware.Sign([]byte(body), "other"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(*got) != 0 {
		t.Fatal("nudged on forged delivery")
	}
}
