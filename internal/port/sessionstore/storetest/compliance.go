// Package storetest holds the compliance suite every sessionstore.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/branch"
	"github.com/Strob0t/IssueForge/internal/domain/marker"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore"
)

// Sample returns a fully populated paused session.
func Sample(token string) *session.Session {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := repository.Coordinates{Host: "github.com", Owner: "acme", Name: "widgets"}
	return &session.Session{
		ID:          "sess-" + token,
		Issue:       repository.Reference{Repo: repo, Kind: repository.KindIssue, Number: 42},
		Pull:        &repository.Reference{Repo: repo, Kind: repository.KindPull, Number: 101},
		WorkDir:     "/tmp/issueforge/acme-widgets-42",
		Repository:  &repository.Handle{Dir: "/tmp/issueforge/acme-widgets-42", Upstream: repo, DefaultBranch: "main", Visibility: repository.VisibilityPrivate},
		Branch:      &branch.Ref{Name: "issue-42-0a1b2c3d", State: branch.StateContinued, Ahead: 2, PullRequest: 101},
		ResumeToken: token,
		ResetAt:     now.Add(3 * time.Hour),
		Marker: &marker.Commit{
			ID:              "0123456789abcdef0123456789abcdef01234567",
			File:            "AGENTS.md",
			Subject:         "Add task marker for issue #42",
			HadPriorContent: true,
			PriorContent:    "# Agents\n\ntrailing spaces   \n",
		},
		AgentSessionID: "agent-123",
		Iteration:      3,
		Termination:    session.TerminationLimit,
		Checkpoint:     now,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now,
	}
}

// Run exercises Save, Load and Delete against s.
func Run(t *testing.T, s sessionstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("SaveAndLoad", func(t *testing.T) {
		want := Sample("tok-save")
		if err := s.Save(ctx, "tok-save", want); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(ctx, "tok-save")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != want.ID || got.WorkDir != want.WorkDir || got.AgentSessionID != want.AgentSessionID {
			t.Fatalf("loaded session mismatch: %+v", got)
		}
		if got.Branch == nil || got.Branch.Name != want.Branch.Name || got.Branch.State != want.Branch.State {
			t.Fatalf("branch mismatch: %+v", got.Branch)
		}
		if got.Marker == nil || got.Marker.PriorContent != want.Marker.PriorContent || !got.Marker.HadPriorContent {
			t.Fatalf("marker mismatch: %+v", got.Marker)
		}
		if got.Pull == nil || got.Pull.Number != 101 {
			t.Fatalf("pull mismatch: %+v", got.Pull)
		}
		if !got.ResetAt.Equal(want.ResetAt) {
			t.Fatalf("reset_at = %v, want %v", got.ResetAt, want.ResetAt)
		}
		if got.Repository == nil || got.Repository.Visibility != repository.VisibilityPrivate {
			t.Fatalf("repository mismatch: %+v", got.Repository)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := s.Load(ctx, "tok-missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		first := Sample("tok-ow")
		if err := s.Save(ctx, "tok-ow", first); err != nil {
			t.Fatal(err)
		}
		second := Sample("tok-ow")
		second.Iteration = 9
		if err := s.Save(ctx, "tok-ow", second); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(ctx, "tok-ow")
		if err != nil {
			t.Fatal(err)
		}
		if got.Iteration != 9 {
			t.Fatalf("iteration = %d, want 9", got.Iteration)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Save(ctx, "tok-del", Sample("tok-del")); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "tok-del"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Load(ctx, "tok-del"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after Delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete(ctx, "tok-never"); err != nil {
			t.Fatalf("Delete of unknown token should not error: %v", err)
		}
	})
}
