package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/git"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/resilience"
)

var errForkNotVisible = errors.New("fork not visible yet")

// Acquirer produces a ready local clone of the target repository, directly
// or through a fork owned by the acting identity.
type Acquirer struct {
	git       *git.Runner
	hosting   hosting.Platform
	resolver  *DivergenceResolver
	forkRetry resilience.Policy
	cloneURL  func(repository.Coordinates) string
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithCloneURL overrides how coordinates map to a clone URL.
func WithCloneURL(fn func(repository.Coordinates) string) AcquirerOption {
	return func(a *Acquirer) { a.cloneURL = fn }
}

// NewAcquirer creates an Acquirer. forkRetry bounds fork visibility checks.
func NewAcquirer(g *git.Runner, p hosting.Platform, resolver *DivergenceResolver, forkRetry resilience.Policy, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		git:       g,
		hosting:   p,
		resolver:  resolver,
		forkRetry: forkRetry,
		cloneURL:  repository.Coordinates.CloneURL,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Acquire clones the session's repository into sess.WorkDir, or reuses an
// existing clone there. With cfg.Fork, origin is the acting identity's fork
// and upstream is the original repository.
func (a *Acquirer) Acquire(ctx context.Context, sess *session.Session, cfg session.Config) (*repository.Handle, error) {
	upstream := sess.Issue.Repo
	meta, err := a.hosting.Repository(ctx, upstream)
	if err != nil {
		return nil, domain.Errorf(domain.KindAcquisition, "read repository "+upstream.FullName(),
			"Check the URL and that the hosting CLI is authenticated (gh auth status).", err)
	}

	h := &repository.Handle{
		Dir:           sess.WorkDir,
		Upstream:      upstream,
		DefaultBranch: meta.DefaultBranch,
		Visibility:    meta.Visibility,
	}
	switch {
	case sess.Repository != nil && sess.Repository.Fork != nil:
		fork := *sess.Repository.Fork
		h.Fork = &fork
	case cfg.Fork:
		fork, err := a.ensureFork(ctx, upstream)
		if err != nil {
			return nil, err
		}
		h.Fork = &fork
	}

	if err := a.clone(ctx, h); err != nil {
		return nil, err
	}
	if h.Forked() {
		if err := a.trackUpstream(ctx, h); err != nil {
			return nil, err
		}
		if err := a.syncFork(ctx, h, cfg.AllowForcePushWithLease); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "repository ready",
		"dir", h.Dir,
		"upstream", upstream.FullName(),
		"fork", h.Forked(),
		"default_branch", h.DefaultBranch,
		"visibility", h.Visibility,
	)
	return h, nil
}

// ensureFork returns the acting identity's fork of upstream, creating it
// when missing and waiting until the platform reports it.
func (a *Acquirer) ensureFork(ctx context.Context, upstream repository.Coordinates) (repository.Coordinates, error) {
	user, err := a.hosting.CurrentUser(ctx)
	if err != nil {
		return repository.Coordinates{}, domain.Errorf(domain.KindAcquisition, "resolve acting identity",
			"Authenticate the hosting CLI (gh auth login).", err)
	}
	fork := repository.Coordinates{Host: upstream.Host, Owner: user, Name: upstream.Name}

	exists, err := a.hosting.ForkExists(ctx, upstream, user)
	if err != nil {
		return repository.Coordinates{}, domain.Errorf(domain.KindAcquisition,
			"look up fork "+fork.FullName(), "Check that the hosting CLI is authenticated.", err)
	}
	if exists {
		slog.InfoContext(ctx, "using existing fork", "fork", fork.FullName())
		return fork, nil
	}

	created, err := a.hosting.CreateFork(ctx, upstream)
	switch {
	case errors.Is(err, hosting.ErrForkExists):
		slog.InfoContext(ctx, "fork already exists", "fork", fork.FullName())
	case err != nil:
		return repository.Coordinates{}, domain.Errorf(domain.KindAcquisition,
			fmt.Sprintf("fork %s into %s", upstream.FullName(), user),
			"Check that forking is allowed for this repository and that you can create repositories.", err)
	}
	if !created.IsZero() {
		fork = created
	}

	attempts := 0
	err = resilience.Retry(ctx, a.forkRetry, func(attempt int) error {
		attempts = attempt
		ok, err := a.hosting.ForkExists(ctx, upstream, fork.Owner)
		if err != nil {
			return err
		}
		if !ok {
			return errForkNotVisible
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		slog.InfoContext(ctx, "waiting for fork", "fork", fork.FullName(), "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return repository.Coordinates{}, domain.Errorf(domain.KindAcquisition,
			fmt.Sprintf("verify fork %s of %s", fork.FullName(), upstream.FullName()),
			fmt.Sprintf("The fork was requested but is not visible yet. Wait a minute and re-run, or check https://%s/%s.",
				fork.Host, fork.FullName()),
			fmt.Errorf("not visible after %d attempts: %w", attempts, err))
	}
	slog.InfoContext(ctx, "fork ready", "fork", fork.FullName(), "attempts", attempts)
	return fork, nil
}

func (a *Acquirer) clone(ctx context.Context, h *repository.Handle) error {
	origin := h.WriteCoordinates()
	if isGitWorkTree(h.Dir) {
		slog.InfoContext(ctx, "reusing existing clone", "dir", h.Dir)
		if _, err := a.git.Run(ctx, h.Dir, "fetch", "--prune", repository.RemoteOrigin); err != nil {
			return domain.Errorf(domain.KindAcquisition, "fetch "+origin.FullName(),
				"Check network access and credentials (gh auth setup-git).", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(h.Dir), 0o755); err != nil {
		return fmt.Errorf("create work root: %w", err)
	}
	if _, err := a.git.Run(ctx, filepath.Dir(h.Dir), "clone", a.cloneURL(origin), h.Dir); err != nil {
		return domain.Errorf(domain.KindAcquisition, "clone "+origin.FullName(),
			"Check that you can read the repository and that git can authenticate (gh auth setup-git).", err)
	}
	return nil
}

// trackUpstream adds the read-only upstream remote and fetches it.
func (a *Acquirer) trackUpstream(ctx context.Context, h *repository.Handle) error {
	url := a.cloneURL(h.Upstream)
	if _, err := a.git.Output(ctx, h.Dir, "remote", "get-url", repository.RemoteUpstream); err != nil {
		if _, err := a.git.Run(ctx, h.Dir, "remote", "add", repository.RemoteUpstream, url); err != nil {
			return fmt.Errorf("add upstream remote: %w", err)
		}
	}
	if _, err := a.git.Run(ctx, h.Dir, "fetch", "--prune", repository.RemoteUpstream); err != nil {
		return domain.Errorf(domain.KindAcquisition, "fetch upstream "+h.Upstream.FullName(),
			"Check network access to the upstream repository.", err)
	}
	return nil
}

// syncFork fast-forwards the fork's default branch to upstream's.
func (a *Acquirer) syncFork(ctx context.Context, h *repository.Handle, allowLease bool) error {
	upstreamTip, err := a.git.ResolveRef(ctx, h.Dir, "refs/remotes/upstream/"+h.DefaultBranch)
	if err != nil {
		return err
	}
	forkTip, err := a.git.ResolveRef(ctx, h.Dir, "refs/remotes/origin/"+h.DefaultBranch)
	if err != nil {
		return err
	}
	if upstreamTip == "" || upstreamTip == forkTip {
		return nil
	}

	refspec := "refs/remotes/upstream/" + h.DefaultBranch + ":refs/heads/" + h.DefaultBranch
	_, err = a.resolver.Push(ctx, h.Dir, repository.RemoteOrigin, refspec, PushOptions{AllowForceWithLease: allowLease})
	if err != nil {
		if domain.KindOf(err) != "" {
			return err
		}
		return domain.Errorf(domain.KindAcquisition, "sync fork default branch "+h.DefaultBranch,
			"Check that you can push to your fork.", err)
	}
	slog.InfoContext(ctx, "fork default branch synced", "branch", h.DefaultBranch, "tip", upstreamTip)
	return nil
}

func isGitWorkTree(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}
