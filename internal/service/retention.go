package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
)

// RetentionInput carries everything the retention decision depends on.
type RetentionInput struct {
	PendingToken    bool
	ResumeRequested bool
	Override        session.Retention
	// Visibility is empty when the repository was never inspected.
	Visibility repository.Visibility
}

// KeepWorkDir decides whether the working directory survives the session.
// A pending resume token or a resumed session always keeps it; otherwise an
// explicit operator choice wins; otherwise private and internal repositories
// are deleted and public ones kept. Unknown visibility keeps the directory.
func KeepWorkDir(in RetentionInput) bool {
	if in.PendingToken || in.ResumeRequested {
		return true
	}
	switch in.Override {
	case session.RetentionKeep:
		return true
	case session.RetentionDelete:
		return false
	}
	switch in.Visibility {
	case repository.VisibilityPrivate, repository.VisibilityInternal:
		return false
	default:
		return true
	}
}

// removeWorkDir deletes dir if it lies strictly inside root.
func removeWorkDir(ctx context.Context, root, dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside work root %s", dir, root)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}
	slog.InfoContext(ctx, "working directory removed", "dir", dir)
	return nil
}
