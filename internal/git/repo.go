package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Head returns the commit id of HEAD.
func (r *Runner) Head(ctx context.Context, dir string) (string, error) {
	return r.Output(ctx, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked out branch name.
func (r *Runner) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return r.Output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// ResolveRef returns the commit id of ref, or "" when the ref does not exist.
func (r *Runner) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	res, err := r.Run(ctx, dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if res.ExitCode == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CountCommits returns the number of commits in the rev-list range spec.
func (r *Runner) CountCommits(ctx context.Context, dir, spec string) (int, error) {
	out, err := r.Output(ctx, dir, "rev-list", "--count", spec)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// IsClean reports whether the working tree and index have no changes,
// untracked files included.
func (r *Runner) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := r.Output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// HasStagedChanges reports whether the index differs from HEAD, limited to
// paths when any are given.
func (r *Runner) HasStagedChanges(ctx context.Context, dir string, paths ...string) (bool, error) {
	args := []string{"diff", "--cached", "--quiet"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	res, err := r.Run(ctx, dir, args...)
	if err == nil {
		return false, nil
	}
	if res.ExitCode == 1 {
		return true, nil
	}
	return false, err
}

// CommitTime returns the committer date of a commit.
func (r *Runner) CommitTime(ctx context.Context, dir, id string) (time.Time, error) {
	out, err := r.Output(ctx, dir, "log", "-1", "--format=%cI", id)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, out)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", out, err)
	}
	return t, nil
}

// CommitSubject returns the subject line of a commit.
func (r *Runner) CommitSubject(ctx context.Context, dir, id string) (string, error) {
	return r.Output(ctx, dir, "log", "-1", "--format=%s", id)
}
