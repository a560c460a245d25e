package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/IssueForge/internal/domain/feedback"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/resilience"
)

// FeedbackGate counts comments posted since the session checkpoint and
// decides whether another agent iteration is warranted.
type FeedbackGate struct {
	hosting hosting.Platform
	breaker *resilience.Breaker
}

// NewFeedbackGate creates a gate. breaker may be nil.
func NewFeedbackGate(p hosting.Platform, breaker *resilience.Breaker) *FeedbackGate {
	return &FeedbackGate{hosting: p, breaker: breaker}
}

// Evaluate counts new pull request and issue comments after
// sess.Checkpoint, excluding comments by the acting identity. For a pull
// request target the issues it closes stand in for the issue. With gating
// off the snapshot always allows continuation.
func (g *FeedbackGate) Evaluate(ctx context.Context, sess *session.Session, gating bool) (*feedback.Snapshot, error) {
	self, err := resilience.Call(g.breaker, func() (string, error) {
		return g.hosting.CurrentUser(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: current user: %w", err)
	}

	snap := &feedback.Snapshot{Since: sess.Checkpoint, Gated: gating}
	repo := sess.Issue.Repo

	for _, n := range sess.IssueNumbers() {
		c, err := g.count(ctx, repo, repository.KindIssue, n, sess, self)
		if err != nil {
			return nil, err
		}
		snap.IssueComments += c
	}
	if n := sess.PullNumber(); n > 0 {
		snap.PRComments, err = g.count(ctx, repo, repository.KindPull, n, sess, self)
		if err != nil {
			return nil, err
		}
	}

	snap.ShouldContinue = !gating || snap.HasNew()
	slog.InfoContext(ctx, "feedback evaluated",
		"pr_comments", snap.PRComments,
		"issue_comments", snap.IssueComments,
		"since", snap.Since,
		"gated", gating,
		"continue", snap.ShouldContinue,
	)
	return snap, nil
}

func (g *FeedbackGate) count(ctx context.Context, repo repository.Coordinates, kind repository.Kind, number int, sess *session.Session, self string) (int, error) {
	comments, err := resilience.Call(g.breaker, func() ([]hosting.Comment, error) {
		return g.hosting.Comments(ctx, repo, kind, number, sess.Checkpoint)
	})
	if err != nil {
		return 0, fmt.Errorf("feedback: list %s #%d comments: %w", kind, number, err)
	}
	n := 0
	for i := range comments {
		if strings.EqualFold(comments[i].Author, self) {
			continue
		}
		n++
	}
	return n, nil
}
