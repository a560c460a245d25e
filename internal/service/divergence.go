package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ifotel "github.com/Strob0t/IssueForge/internal/adapter/otel"
	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/divergence"
	"github.com/Strob0t/IssueForge/internal/git"
)

// PushOptions controls a single push.
type PushOptions struct {
	// SetUpstream records the remote branch as the local branch's upstream.
	SetUpstream bool
	// AllowForceWithLease authorizes a conditional overwrite of a diverged
	// remote branch. Without it a divergent rejection halts.
	AllowForceWithLease bool
}

// DivergenceResolver pushes refs and handles non-fast-forward rejections.
// It never issues an unconditional force push.
type DivergenceResolver struct {
	git     *git.Runner
	metrics *ifotel.Metrics
}

// NewDivergenceResolver creates a resolver. metrics may be nil.
func NewDivergenceResolver(g *git.Runner, metrics *ifotel.Metrics) *DivergenceResolver {
	return &DivergenceResolver{git: g, metrics: metrics}
}

// Push pushes refspec ("branch" or "src:dst") to remote and classifies the
// outcome. A rejected-other failure is returned unchanged; a divergent one is
// either resolved with a lease or reported as a domain.KindDivergence error.
func (r *DivergenceResolver) Push(ctx context.Context, dir, remote, refspec string, opts PushOptions) (divergence.State, error) {
	ctx, span := ifotel.StartPushSpan(ctx, remote, refspec)
	defer span.End()

	state, err := r.push(ctx, dir, remote, refspec, opts)
	span.SetAttributes(attribute.String("push.state", string(state)))
	if r.metrics != nil {
		r.metrics.DivergenceOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(state)),
		))
	}
	return state, err
}

func (r *DivergenceResolver) push(ctx context.Context, dir, remote, refspec string, opts PushOptions) (divergence.State, error) {
	args := []string{"push"}
	if opts.SetUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, remote, refspec)

	_, err := r.git.Run(ctx, dir, args...)
	if err == nil {
		return divergence.StateAccepted, nil
	}
	var cmdErr *git.CommandError
	if !errors.As(err, &cmdErr) {
		return divergence.StateRejectedOther, fmt.Errorf("push %s to %s: %w", refspec, remote, err)
	}

	state := divergence.StateFor(git.ClassifyPushFailure(cmdErr.Result.Stderr))
	if state != divergence.StateRejectedDivergent {
		return state, fmt.Errorf("push %s to %s: %w", refspec, remote, err)
	}

	dst := pushDestination(refspec)
	if !opts.AllowForceWithLease {
		slog.WarnContext(ctx, "push rejected: remote branch has diverged", "remote", remote, "branch", dst)
		return state, domain.Errorf(domain.KindDivergence,
			fmt.Sprintf("push %s to %s", dst, remote),
			divergentRemedy(dir, remote, dst), err)
	}

	return r.pushWithLease(ctx, dir, remote, refspec, dst, opts, err)
}

// pushWithLease retries the push, overwriting the remote branch only if it
// still points at the commit recorded by the last fetch.
func (r *DivergenceResolver) pushWithLease(ctx context.Context, dir, remote, refspec, dst string, opts PushOptions, rejected error) (divergence.State, error) {
	op := fmt.Sprintf("push %s to %s with lease", dst, remote)
	expected, err := r.git.ResolveRef(ctx, dir, "refs/remotes/"+remote+"/"+dst)
	if err != nil {
		return divergence.StateRejectedDivergent, fmt.Errorf("%s: read last fetched tip: %w", op, err)
	}
	if expected == "" {
		return divergence.StateRejectedDivergent, domain.Errorf(domain.KindDivergence, op,
			fmt.Sprintf("No fetched copy of %s/%s exists, so there is nothing to lease against.\n"+
				"Fetch it and inspect the difference first:\n"+
				"  git -C %s fetch %s %s\n"+
				"  git -C %s log --oneline HEAD..%s/%s", remote, dst, dir, remote, dst, dir, remote, dst),
			rejected)
	}

	args := []string{"push", "--force-with-lease=" + dst + ":" + expected}
	if opts.SetUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, remote, refspec)

	slog.WarnContext(ctx, "overwriting diverged remote branch with lease",
		"remote", remote, "branch", dst, "expected", expected)
	if _, err := r.git.Run(ctx, dir, args...); err != nil {
		return divergence.StateRejectedDivergent, domain.Errorf(domain.KindDivergence, op,
			leaseRemedy(dir, remote, dst, git.ClassifyPushFailure(git.Stderr(err))), err)
	}
	return divergence.StateAccepted, nil
}

// pushDestination returns the remote branch name a refspec writes to.
func pushDestination(refspec string) string {
	dst := strings.TrimPrefix(refspec, "+")
	if i := strings.LastIndexByte(dst, ':'); i >= 0 {
		dst = dst[i+1:]
	}
	return strings.TrimPrefix(dst, "refs/heads/")
}

func divergentRemedy(dir, remote, branch string) string {
	return fmt.Sprintf("The remote branch %[2]s/%[3]s contains commits that your local branch does not\n"+
		"have (non-fast-forward). Pushing now would discard them.\n\n"+
		"Inspect the difference:\n"+
		"  git -C %[1]s fetch %[2]s\n"+
		"  git -C %[1]s log --oneline HEAD..%[2]s/%[3]s\n\n"+
		"Then either rebase onto the remote branch and re-run, or re-run with %[4]s\n"+
		"to overwrite it only if it has not moved since the last fetch.",
		dir, remote, branch, divergence.AuthorizeFlag)
}

func leaseRemedy(dir, remote, branch string, class divergence.Class) string {
	if class == divergence.ClassProtected {
		return fmt.Sprintf("The branch %s/%s is protected and refuses overwrites. Resolve the divergence\n"+
			"by hand (rebase or merge) and push without overwriting.", remote, branch)
	}
	return fmt.Sprintf("The remote branch %[2]s/%[3]s moved after the last fetch, so the lease was refused.\n"+
		"Resolve it by hand:\n"+
		"  git -C %[1]s fetch %[2]s\n"+
		"  git -C %[1]s rebase %[2]s/%[3]s\n"+
		"  git -C %[1]s push %[2]s %[3]s", dir, remote, branch)
}
