package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/branch"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/git"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
)

// BranchManager creates fresh working branches or checks out the head
// branch of an existing pull request.
type BranchManager struct {
	git     *git.Runner
	hosting hosting.Platform
	prefix  string
}

// NewBranchManager creates a manager naming fresh branches
// "<prefix>-<issue>-<8 hex>".
func NewBranchManager(g *git.Runner, p hosting.Platform, prefix string) *BranchManager {
	if prefix == "" {
		prefix = "issue"
	}
	return &BranchManager{git: g, hosting: p, prefix: prefix}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Prepare leaves the working copy on the session's branch and reports its
// state. sess.Pull is filled in when auto-continue adopts an open PR.
func (m *BranchManager) Prepare(ctx context.Context, h *repository.Handle, sess *session.Session, cfg session.Config) (*branch.Ref, error) {
	if sess.Branch != nil && sess.Branch.Name != "" {
		return m.checkoutExisting(ctx, h, sess.Branch)
	}

	if sess.Pull != nil {
		pr, err := m.hosting.PullRequest(ctx, sess.Issue.Repo, sess.Pull.Number)
		if err != nil {
			return nil, domain.Errorf(domain.KindBranch,
				fmt.Sprintf("read pull request #%d", sess.Pull.Number),
				"Check the pull request URL and that the hosting CLI is authenticated.", err)
		}
		if sess.Issue.Kind == repository.KindPull {
			sess.LinkedIssues = pr.ClosingIssues
		}
		return m.continuePull(ctx, h, pr)
	}

	if cfg.AutoContinue && sess.Issue.Kind == repository.KindIssue {
		prefix := fmt.Sprintf("%s-%d-", m.prefix, sess.Issue.Number)
		pr, err := m.hosting.FindPullRequestForBranchPrefix(ctx, sess.Issue.Repo, prefix)
		if err != nil {
			return nil, fmt.Errorf("find pull request for %s*: %w", prefix, err)
		}
		if pr != nil {
			slog.InfoContext(ctx, "continuing existing pull request", "pull", pr.Number, "branch", pr.HeadBranch)
			sess.Pull = &repository.Reference{Repo: sess.Issue.Repo, Kind: repository.KindPull, Number: pr.Number}
			return m.continuePull(ctx, h, pr)
		}
	}

	return m.createFresh(ctx, h, sess)
}

func (m *BranchManager) createFresh(ctx context.Context, h *repository.Handle, sess *session.Session) (*branch.Ref, error) {
	name := fmt.Sprintf("%s-%d-%s", m.prefix, sess.Issue.Number, randomSuffix())
	if _, err := m.git.Run(ctx, h.Dir, "checkout", "-b", name, h.BaseRef()); err != nil {
		return nil, domain.Errorf(domain.KindBranch, "create branch "+name,
			fmt.Sprintf("Check that %s exists in %s.", h.BaseRef(), h.Dir), err)
	}
	slog.InfoContext(ctx, "branch created", "branch", name, "base", h.BaseRef())
	return &branch.Ref{Name: name, State: branch.StateFresh}, nil
}

func (m *BranchManager) continuePull(ctx context.Context, h *repository.Handle, pr *hosting.PullRequest) (*branch.Ref, error) {
	name := pr.HeadBranch
	remote := h.WriteRemote()
	writeOwner := h.WriteCoordinates().Owner

	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", name, remote, name)
	if _, err := m.git.Run(ctx, h.Dir, "fetch", remote, refspec); err != nil {
		if pr.HeadOwner != "" && !strings.EqualFold(pr.HeadOwner, writeOwner) {
			return nil, domain.Errorf(domain.KindBranch,
				fmt.Sprintf("fetch branch %s of pull request #%d", name, pr.Number),
				foreignHeadRemedy(h, pr), err)
		}
		return nil, domain.Errorf(domain.KindBranch,
			fmt.Sprintf("fetch branch %s of pull request #%d", name, pr.Number),
			fmt.Sprintf("The branch %s was not found on %s. It may have been deleted after the pull request closed.", name, h.WriteCoordinates().FullName()),
			err)
	}

	if _, err := m.git.Run(ctx, h.Dir, "checkout", "-B", name, remote+"/"+name); err != nil {
		return nil, domain.Errorf(domain.KindBranch, "checkout "+name, "Check the working copy for local changes.", err)
	}
	if _, err := m.git.Run(ctx, h.Dir, "branch", "--set-upstream-to="+remote+"/"+name, name); err != nil {
		return nil, fmt.Errorf("track %s/%s: %w", remote, name, err)
	}

	ref, err := m.classify(ctx, h, name)
	if err != nil {
		return nil, err
	}
	ref.PullRequest = pr.Number
	if pr.Merged {
		ref.State = branch.StateMerged
	}
	slog.InfoContext(ctx, "pull request branch checked out",
		"branch", name, "pull", pr.Number, "state", ref.State, "ahead", ref.Ahead)
	return ref, nil
}

// checkoutExisting re-enters a branch recorded by a paused session.
func (m *BranchManager) checkoutExisting(ctx context.Context, h *repository.Handle, prev *branch.Ref) (*branch.Ref, error) {
	if _, err := m.git.Run(ctx, h.Dir, "checkout", prev.Name); err != nil {
		return nil, domain.Errorf(domain.KindBranch, "checkout "+prev.Name,
			"The paused session's working directory no longer holds its branch. Start again from the issue URL.", err)
	}
	ref, err := m.classify(ctx, h, prev.Name)
	if err != nil {
		return nil, err
	}
	ref.PullRequest = prev.PullRequest
	if prev.State == branch.StateFresh && ref.State == branch.StateMerged {
		ref.State = branch.StateFresh
	}
	return ref, nil
}

// classify counts commits ahead of the base ref. Zero ahead means merged.
func (m *BranchManager) classify(ctx context.Context, h *repository.Handle, name string) (*branch.Ref, error) {
	ahead, err := m.git.CountCommits(ctx, h.Dir, h.BaseRef()+"..HEAD")
	if err != nil {
		var cmdErr *git.CommandError
		if errors.As(err, &cmdErr) {
			return nil, domain.Errorf(domain.KindBranch, "compare "+name+" with "+h.BaseRef(),
				"Fetch the base branch and re-run.", err)
		}
		return nil, err
	}
	state := branch.StateContinued
	if ahead == 0 {
		state = branch.StateMerged
	}
	return &branch.Ref{Name: name, State: state, Ahead: ahead}, nil
}

func foreignHeadRemedy(h *repository.Handle, pr *hosting.PullRequest) string {
	if !h.Forked() {
		return fmt.Sprintf("The head branch of pull request #%d lives in %s's fork, not in %s.\n"+
			"Re-run with --fork so the branch is fetched from and pushed to a fork.",
			pr.Number, pr.HeadOwner, h.Upstream.FullName())
	}
	return fmt.Sprintf("The head branch of pull request #%d lives in %s's fork, but your fork is %s.\n"+
		"Only the pull request author (or a maintainer with push access to their fork) can continue it.\n"+
		"Start a new pull request from the issue URL instead.",
		pr.Number, pr.HeadOwner, h.WriteCoordinates().FullName())
}
