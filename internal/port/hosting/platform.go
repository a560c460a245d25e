// Package hosting defines the hosting platform port: issues, pull requests,
// comments and forks of a repository host.
package hosting

import (
	"context"
	"errors"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/repository"
)

// ErrForkExists is returned by CreateFork when the acting identity already
// owns a fork of the repository. Callers treat it as success.
var ErrForkExists = errors.New("fork already exists")

// Repository describes a hosted repository.
type Repository struct {
	Coordinates   repository.Coordinates
	DefaultBranch string
	Visibility    repository.Visibility
	// Parent is set when the repository is a fork.
	Parent *repository.Coordinates
}

// Issue is a tracked work item.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	URL    string
}

// PullRequest is a pull request and the branch it was opened from.
type PullRequest struct {
	Number     int
	Title      string
	URL        string
	State      string // "open" | "closed" | "merged"
	Merged     bool
	Draft      bool
	BaseBranch string
	HeadBranch string
	// HeadOwner owns the repository the head branch lives in.
	HeadOwner string
	// ClosingIssues lists same-repository issues the PR closes on merge.
	ClosingIssues []int
}

// Comment is a single comment on an issue or pull request.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// NewPullRequest is the request to open a pull request.
type NewPullRequest struct {
	// Head is "<owner>:<branch>" for cross-repository pull requests, or the
	// branch name alone.
	Head  string
	Base  string
	Title string
	Body  string
	Draft bool
}

// Platform is the port interface for a repository hosting platform.
type Platform interface {
	// Name returns the unique identifier for this platform (e.g. "github").
	Name() string

	// CurrentUser returns the login of the acting identity.
	CurrentUser(ctx context.Context) (string, error)

	// Repository returns metadata for repo. Unknown repositories yield an
	// error wrapping domain.ErrNotFound.
	Repository(ctx context.Context, repo repository.Coordinates) (*Repository, error)

	// ForkExists reports whether owner has a fork of upstream.
	ForkExists(ctx context.Context, upstream repository.Coordinates, owner string) (bool, error)

	// CreateFork requests a fork of upstream under the acting identity and
	// returns the fork coordinates. It returns ErrForkExists, alongside the
	// coordinates, when the fork is already there.
	CreateFork(ctx context.Context, upstream repository.Coordinates) (repository.Coordinates, error)

	Issue(ctx context.Context, repo repository.Coordinates, number int) (*Issue, error)
	PullRequest(ctx context.Context, repo repository.Coordinates, number int) (*PullRequest, error)

	// FindPullRequestForBranchPrefix returns the most recent open pull request
	// whose head branch starts with prefix, or nil when there is none.
	FindPullRequestForBranchPrefix(ctx context.Context, repo repository.Coordinates, prefix string) (*PullRequest, error)

	// Comments lists comments on an issue or pull request created after since.
	// For pull requests, review comments are included.
	Comments(ctx context.Context, repo repository.Coordinates, kind repository.Kind, number int, since time.Time) ([]Comment, error)

	CreatePullRequest(ctx context.Context, repo repository.Coordinates, pr NewPullRequest) (*PullRequest, error)

	// MarkReady converts a draft pull request into one ready for review.
	MarkReady(ctx context.Context, repo repository.Coordinates, number int) error
}
