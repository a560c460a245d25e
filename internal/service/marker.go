package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/branch"
	"github.com/Strob0t/IssueForge/internal/domain/marker"
	"github.com/Strob0t/IssueForge/internal/git"
)

// markerSeparator is placed between pre-existing content and the appended
// task description.
const markerSeparator = "\n---\n\n"

// ErrMergedBranch is returned when a marker would be written to a branch
// whose work has already been merged.
var ErrMergedBranch = errors.New("branch has no commits ahead of base")

// MarkerController writes and reverts the task marker commit.
type MarkerController struct {
	git  *git.Runner
	file string
	// allowMerged permits writing to a merged branch.
	allowMerged bool
}

// NewMarkerController creates a controller writing to file, relative to the
// repository root.
func NewMarkerController(g *git.Runner, file string, allowMerged bool) *MarkerController {
	return &MarkerController{git: g, file: file, allowMerged: allowMerged}
}

// Write commits the rendered task description to the marker file. Existing
// content is kept and the description is appended beneath a separator. The
// commit contains only the marker file.
func (c *MarkerController) Write(ctx context.Context, dir string, ref *branch.Ref, p marker.Params) (*marker.Commit, error) {
	if ref != nil && !ref.Writable() && !c.allowMerged {
		return nil, domain.Errorf(domain.KindBranch,
			"write task marker on "+ref.Name,
			fmt.Sprintf("Branch %s has no commits ahead of the default branch; its work appears to be merged.\n"+
				"Pass the issue URL to start a fresh branch, or re-run with --allow-merged-branch to reuse it.", ref.Name),
			ErrMergedBranch)
	}

	path := filepath.Join(dir, c.file)
	prior, err := os.ReadFile(path)
	hadPrior := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read marker file: %w", err)
	}

	body, err := renderMarker(p)
	if err != nil {
		return nil, err
	}
	content := body
	if hadPrior {
		content = appendBeneath(string(prior), body)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write marker file: %w", err)
	}

	subject := markerSubject(p)
	if _, err := c.git.Run(ctx, dir, "add", "--force", "--", c.file); err != nil {
		return nil, fmt.Errorf("stage marker: %w", err)
	}
	if _, err := c.git.Run(ctx, dir, "commit", "--no-verify", "-m", subject, "--", c.file); err != nil {
		return nil, fmt.Errorf("commit marker: %w", err)
	}
	id, err := c.git.Head(ctx, dir)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "task marker committed", "commit", id, "file", c.file, "had_prior_content", hadPrior)
	return &marker.Commit{
		ID:              id,
		File:            c.file,
		Subject:         subject,
		HadPriorContent: hadPrior,
		PriorContent:    string(prior),
	}, nil
}

// Revert restores the marker file to its exact pre-write state and commits
// the restoration. It reports whether a revert commit was created. A nil
// commit is a no-op.
func (c *MarkerController) Revert(ctx context.Context, dir string, m *marker.Commit) (bool, error) {
	if m == nil || m.ID == "" {
		return false, nil
	}

	if err := c.reverseApply(ctx, dir, m); err != nil {
		slog.WarnContext(ctx, "reverse patch did not apply cleanly, restoring marker file directly",
			"commit", m.ID, "error", err)
		if err := c.restore(ctx, dir, m); err != nil {
			return false, err
		}
	} else if ok, err := matchesRestoreTarget(dir, m); err != nil {
		return false, err
	} else if !ok {
		slog.WarnContext(ctx, "marker file differs from restore target after revert, restoring directly", "commit", m.ID)
		if err := c.restore(ctx, dir, m); err != nil {
			return false, err
		}
	}

	staged, err := c.git.HasStagedChanges(ctx, dir, m.File)
	if err != nil {
		return false, fmt.Errorf("check staged marker: %w", err)
	}
	if !staged {
		slog.InfoContext(ctx, "marker file already at restore target", "commit", m.ID)
		return false, nil
	}

	msg := fmt.Sprintf("Revert %q\n\nThis reverts commit %s.", m.Subject, m.ID)
	if _, err := c.git.Run(ctx, dir, "commit", "--no-verify", "-m", msg, "--", m.File); err != nil {
		return false, fmt.Errorf("commit marker revert: %w", err)
	}
	slog.InfoContext(ctx, "task marker reverted", "commit", m.ID)
	return true, nil
}

// reverseApply applies the inverse of the marker commit's change to the
// marker file, to both index and working tree.
func (c *MarkerController) reverseApply(ctx context.Context, dir string, m *marker.Commit) error {
	res, err := c.git.Run(ctx, dir, "show", "--binary", "--format=", m.ID, "--", m.File)
	if err != nil {
		return fmt.Errorf("read marker patch: %w", err)
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return errors.New("marker commit has no diff for " + m.File)
	}
	if _, err := c.git.RunInput(ctx, dir, res.Stdout, "apply", "-R", "--check", "--index"); err != nil {
		return err
	}
	_, err = c.git.RunInput(ctx, dir, res.Stdout, "apply", "-R", "--index")
	return err
}

// restore forces the marker file to its restore target and stages it.
func (c *MarkerController) restore(ctx context.Context, dir string, m *marker.Commit) error {
	if !m.HadPriorContent {
		if _, err := c.git.Run(ctx, dir, "rm", "--quiet", "--force", "--ignore-unmatch", "--", m.File); err != nil {
			return fmt.Errorf("remove marker file: %w", err)
		}
		if err := os.Remove(filepath.Join(dir, m.File)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove marker file: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, m.File), []byte(m.PriorContent), 0o644); err != nil {
		return fmt.Errorf("restore marker file: %w", err)
	}
	if _, err := c.git.Run(ctx, dir, "add", "--force", "--", m.File); err != nil {
		return fmt.Errorf("stage restored marker: %w", err)
	}
	return nil
}

func matchesRestoreTarget(dir string, m *marker.Commit) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, m.File))
	if errors.Is(err, fs.ErrNotExist) {
		return !m.HadPriorContent, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker file: %w", err)
	}
	return m.HadPriorContent && string(data) == m.PriorContent, nil
}

func appendBeneath(prior, body string) string {
	if prior != "" && !strings.HasSuffix(prior, "\n") {
		prior += "\n"
	}
	return prior + markerSeparator + body
}
