// Package repository defines repository coordinates, URL references, and the
// handle describing a prepared local clone.
package repository

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Visibility is the hosting platform's visibility of a repository.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Coordinates identify a repository on a hosting platform.
type Coordinates struct {
	Host  string `json:"host" yaml:"host"`
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// FullName returns "owner/name".
func (c Coordinates) FullName() string { return c.Owner + "/" + c.Name }

// CloneURL returns the HTTPS clone URL.
func (c Coordinates) CloneURL() string {
	return fmt.Sprintf("https://%s/%s/%s.git", c.Host, c.Owner, c.Name)
}

// IsZero reports whether no coordinates are set.
func (c Coordinates) IsZero() bool { return c.Owner == "" && c.Name == "" }

// Remote names used inside a working copy.
const (
	RemoteOrigin   = "origin"
	RemoteUpstream = "upstream"
)

// Handle points at a ready local clone. If Fork is set, origin is the fork
// and all writes go there; upstream is added as a read-only remote.
type Handle struct {
	Dir           string       `json:"dir" yaml:"dir"`
	Upstream      Coordinates  `json:"upstream" yaml:"upstream"`
	Fork          *Coordinates `json:"fork,omitempty" yaml:"fork,omitempty"`
	DefaultBranch string       `json:"default_branch" yaml:"default_branch"`
	Visibility    Visibility   `json:"visibility" yaml:"visibility"`
}

// Forked reports whether the clone was made through a fork.
func (h *Handle) Forked() bool { return h.Fork != nil }

// WriteRemote is the remote every push targets.
func (h *Handle) WriteRemote() string { return RemoteOrigin }

// WriteCoordinates returns the repository that receives pushes.
func (h *Handle) WriteCoordinates() Coordinates {
	if h.Fork != nil {
		return *h.Fork
	}
	return h.Upstream
}

// BaseRemote is the remote holding the canonical default branch.
func (h *Handle) BaseRemote() string {
	if h.Fork != nil {
		return RemoteUpstream
	}
	return RemoteOrigin
}

// BaseRef is the remote-tracking ref of the canonical default branch.
func (h *Handle) BaseRef() string {
	return h.BaseRemote() + "/" + h.DefaultBranch
}

// Kind says what a parsed URL points at.
type Kind string

const (
	KindRepository Kind = "repository"
	KindIssue      Kind = "issue"
	KindPull       Kind = "pull"
)

// Reference is a parsed repository, issue, or pull request URL.
type Reference struct {
	Repo   Coordinates `json:"repo" yaml:"repo"`
	Kind   Kind        `json:"kind" yaml:"kind"`
	Number int         `json:"number,omitempty" yaml:"number,omitempty"`
}

// String renders the reference back to its canonical URL.
func (r Reference) String() string {
	base := fmt.Sprintf("https://%s/%s/%s", r.Repo.Host, r.Repo.Owner, r.Repo.Name)
	switch r.Kind {
	case KindIssue:
		return fmt.Sprintf("%s/issues/%d", base, r.Number)
	case KindPull:
		return fmt.Sprintf("%s/pull/%d", base, r.Number)
	default:
		return base
	}
}

// ParseReference parses https://host/owner/repo[/issues/N|/pull/N].
// A trailing ".git" and trailing slashes are tolerated.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return Reference{}, fmt.Errorf("url %q has no host", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Reference{}, fmt.Errorf("url %q: expected /owner/repo", raw)
	}

	ref := Reference{
		Repo: Coordinates{
			Host:  strings.ToLower(u.Host),
			Owner: parts[0],
			Name:  strings.TrimSuffix(parts[1], ".git"),
		},
		Kind: KindRepository,
	}

	switch len(parts) {
	case 2:
		return ref, nil
	case 4:
	default:
		return Reference{}, fmt.Errorf("url %q: unsupported path", raw)
	}

	switch parts[2] {
	case "issues":
		ref.Kind = KindIssue
	case "pull", "pulls":
		ref.Kind = KindPull
	default:
		return Reference{}, fmt.Errorf("url %q: expected issues/N or pull/N", raw)
	}

	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 {
		return Reference{}, fmt.Errorf("url %q: invalid number %q", raw, parts[3])
	}
	ref.Number = n
	return ref, nil
}
