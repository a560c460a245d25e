// Package github implements hosting.Platform for GitHub using the gh CLI.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
)

const providerName = "github"

var _ hosting.Platform = (*Provider)(nil)

// Provider implements hosting.Platform via the gh CLI.
type Provider struct {
	binary string
	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newProvider(binary string) *Provider {
	if binary == "" {
		binary = "gh"
	}
	return &Provider{binary: binary, execCommand: exec.CommandContext}
}

func (p *Provider) Name() string { return providerName }

// ghRepo mirrors `gh repo view --json`.
type ghRepo struct {
	Name             string `json:"name"`
	Owner            ghUser `json:"owner"`
	Visibility       string `json:"visibility"`
	IsFork           bool   `json:"isFork"`
	DefaultBranchRef struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef"`
	Parent *struct {
		Name  string `json:"name"`
		Owner ghUser `json:"owner"`
	} `json:"parent"`
}

type ghUser struct {
	Login string `json:"login"`
}

// ghIssue mirrors `gh issue view --json`.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"url"`
}

// ghPull mirrors `gh pr view/list --json`.
type ghPull struct {
	Number              int          `json:"number"`
	Title               string       `json:"title"`
	URL                 string       `json:"url"`
	State               string       `json:"state"`
	IsDraft             bool         `json:"isDraft"`
	BaseRefName         string       `json:"baseRefName"`
	HeadRefName         string       `json:"headRefName"`
	HeadRepositoryOwner ghUser       `json:"headRepositoryOwner"`
	MergedAt            time.Time    `json:"mergedAt"`
	ClosingIssues       []ghIssueRef `json:"closingIssuesReferences"`
}

// ghIssueRef mirrors an entry of closingIssuesReferences.
type ghIssueRef struct {
	Number     int `json:"number"`
	Repository struct {
		Name  string `json:"name"`
		Owner ghUser `json:"owner"`
	} `json:"repository"`
}

// ghComment mirrors REST comment objects from `gh api`.
type ghComment struct {
	ID        int64     `json:"id"`
	User      ghUser    `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

const pullFields = "number,title,url,state,isDraft,baseRefName,headRefName,headRepositoryOwner,mergedAt,closingIssuesReferences"

func (p *Provider) CurrentUser(ctx context.Context) (string, error) {
	out, err := p.run(ctx, nil, "api", "user")
	if err != nil {
		return "", err
	}
	var u ghUser
	if err := json.Unmarshal(out, &u); err != nil {
		return "", fmt.Errorf("parse gh output: %w", err)
	}
	if u.Login == "" {
		return "", errors.New("gh api user: empty login")
	}
	return u.Login, nil
}

func (p *Provider) Repository(ctx context.Context, repo repository.Coordinates) (*hosting.Repository, error) {
	r, err := p.viewRepo(ctx, repo)
	if err != nil {
		return nil, err
	}
	return repoToHosting(r, repo.Host), nil
}

func (p *Provider) viewRepo(ctx context.Context, repo repository.Coordinates) (*ghRepo, error) {
	out, err := p.run(ctx, nil, "repo", "view", repoArg(repo),
		"--json", "name,owner,visibility,isFork,defaultBranchRef,parent")
	if err != nil {
		return nil, err
	}
	var r ghRepo
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return &r, nil
}

func repoToHosting(r *ghRepo, host string) *hosting.Repository {
	out := &hosting.Repository{
		Coordinates:   repository.Coordinates{Host: host, Owner: r.Owner.Login, Name: r.Name},
		DefaultBranch: r.DefaultBranchRef.Name,
		Visibility:    repository.Visibility(strings.ToLower(r.Visibility)),
	}
	if r.IsFork && r.Parent != nil {
		out.Parent = &repository.Coordinates{Host: host, Owner: r.Parent.Owner.Login, Name: r.Parent.Name}
	}
	return out
}

func (p *Provider) ForkExists(ctx context.Context, upstream repository.Coordinates, owner string) (bool, error) {
	fork := repository.Coordinates{Host: upstream.Host, Owner: owner, Name: upstream.Name}
	r, err := p.viewRepo(ctx, fork)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !r.IsFork || r.Parent == nil {
		return false, nil
	}
	return strings.EqualFold(r.Parent.Owner.Login, upstream.Owner) &&
		strings.EqualFold(r.Parent.Name, upstream.Name), nil
}

// CreateFork runs `gh repo fork`. gh reports an existing fork as a warning
// with exit status 0, so its output is checked for the "already exists" text.
func (p *Provider) CreateFork(ctx context.Context, upstream repository.Coordinates) (repository.Coordinates, error) {
	user, err := p.CurrentUser(ctx)
	if err != nil {
		return repository.Coordinates{}, err
	}
	fork := repository.Coordinates{Host: upstream.Host, Owner: user, Name: upstream.Name}

	cmd := p.execCommand(ctx, p.binary, "repo", "fork", repoArg(upstream), "--clone=false")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	combined := stdout.String() + stderr.String()
	if isAlreadyExists(combined) {
		return fork, hosting.ErrForkExists
	}
	if runErr != nil {
		return repository.Coordinates{}, commandError("repo fork", stderr.String(), runErr)
	}
	return fork, nil
}

func isAlreadyExists(out string) bool {
	return strings.Contains(strings.ToLower(out), "already exists")
}

func (p *Provider) Issue(ctx context.Context, repo repository.Coordinates, number int) (*hosting.Issue, error) {
	out, err := p.run(ctx, nil, "issue", "view", strconv.Itoa(number),
		"--repo", repoArg(repo), "--json", "number,title,body,state,url")
	if err != nil {
		return nil, err
	}
	var is ghIssue
	if err := json.Unmarshal(out, &is); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return &hosting.Issue{
		Number: is.Number,
		Title:  is.Title,
		Body:   is.Body,
		State:  strings.ToLower(is.State),
		URL:    is.URL,
	}, nil
}

func (p *Provider) PullRequest(ctx context.Context, repo repository.Coordinates, number int) (*hosting.PullRequest, error) {
	out, err := p.run(ctx, nil, "pr", "view", strconv.Itoa(number),
		"--repo", repoArg(repo), "--json", pullFields)
	if err != nil {
		return nil, err
	}
	var pr ghPull
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	res := pullToHosting(&pr)
	for _, ref := range pr.ClosingIssues {
		if ref.Repository.Name != "" && !(strings.EqualFold(ref.Repository.Owner.Login, repo.Owner) && strings.EqualFold(ref.Repository.Name, repo.Name)) {
			continue
		}
		res.ClosingIssues = append(res.ClosingIssues, ref.Number)
	}
	return res, nil
}

func pullToHosting(pr *ghPull) *hosting.PullRequest {
	state := strings.ToLower(pr.State)
	merged := state == "merged" || !pr.MergedAt.IsZero()
	if merged {
		state = "merged"
	}
	return &hosting.PullRequest{
		Number:     pr.Number,
		Title:      pr.Title,
		URL:        pr.URL,
		State:      state,
		Merged:     merged,
		Draft:      pr.IsDraft,
		BaseBranch: pr.BaseRefName,
		HeadBranch: pr.HeadRefName,
		HeadOwner:  pr.HeadRepositoryOwner.Login,
	}
}

func (p *Provider) FindPullRequestForBranchPrefix(ctx context.Context, repo repository.Coordinates, prefix string) (*hosting.PullRequest, error) {
	out, err := p.run(ctx, nil, "pr", "list", "--repo", repoArg(repo),
		"--state", "open", "--json", pullFields, "--limit", "100")
	if err != nil {
		return nil, err
	}
	var pulls []ghPull
	if err := json.Unmarshal(out, &pulls); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}

	var best *ghPull
	for i := range pulls {
		if !strings.HasPrefix(pulls[i].HeadRefName, prefix) {
			continue
		}
		if best == nil || pulls[i].Number > best.Number {
			best = &pulls[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	return pullToHosting(best), nil
}

func (p *Provider) Comments(ctx context.Context, repo repository.Coordinates, kind repository.Kind, number int, since time.Time) ([]hosting.Comment, error) {
	endpoints := []string{fmt.Sprintf("repos/%s/%s/issues/%d/comments", repo.Owner, repo.Name, number)}
	if kind == repository.KindPull {
		endpoints = append(endpoints, fmt.Sprintf("repos/%s/%s/pulls/%d/comments", repo.Owner, repo.Name, number))
	}

	var out []hosting.Comment
	for _, ep := range endpoints {
		if !since.IsZero() {
			ep += "?since=" + since.UTC().Format(time.RFC3339)
		}
		args := []string{"api", ep, "--paginate"}
		args = append(args, hostnameArgs(repo)...)
		raw, err := p.run(ctx, nil, args...)
		if err != nil {
			return nil, err
		}
		comments, err := decodeComments(raw)
		if err != nil {
			return nil, err
		}
		for _, c := range comments {
			// since filters on updated_at server side; count creations only.
			if !c.CreatedAt.After(since) {
				continue
			}
			out = append(out, hosting.Comment{
				ID:        strconv.FormatInt(c.ID, 10),
				Author:    c.User.Login,
				Body:      c.Body,
				CreatedAt: c.CreatedAt,
			})
		}
	}
	return out, nil
}

// decodeComments reads the concatenated JSON arrays `gh api --paginate` prints.
func decodeComments(raw []byte) ([]ghComment, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var all []ghComment
	for {
		var page []ghComment
		err := dec.Decode(&page)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse gh output: %w", err)
		}
		all = append(all, page...)
	}
}

func (p *Provider) CreatePullRequest(ctx context.Context, repo repository.Coordinates, pr hosting.NewPullRequest) (*hosting.PullRequest, error) {
	args := []string{"pr", "create", "--repo", repoArg(repo),
		"--head", pr.Head, "--base", pr.Base, "--title", pr.Title, "--body-file", "-"}
	if pr.Draft {
		args = append(args, "--draft")
	}
	out, err := p.run(ctx, strings.NewReader(pr.Body), args...)
	if err != nil {
		return nil, err
	}

	url := lastLine(string(out))
	number, err := numberFromURL(url)
	if err != nil {
		return nil, err
	}
	head, owner := pr.Head, repo.Owner
	if i := strings.IndexByte(head, ':'); i >= 0 {
		owner, head = head[:i], head[i+1:]
	}
	return &hosting.PullRequest{
		Number:     number,
		Title:      pr.Title,
		URL:        url,
		State:      "open",
		Draft:      pr.Draft,
		BaseBranch: pr.Base,
		HeadBranch: head,
		HeadOwner:  owner,
	}, nil
}

func (p *Provider) MarkReady(ctx context.Context, repo repository.Coordinates, number int) error {
	_, err := p.run(ctx, nil, "pr", "ready", strconv.Itoa(number), "--repo", repoArg(repo))
	return err
}

// run executes gh and returns stdout. Not-found answers wrap domain.ErrNotFound.
func (p *Provider) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	cmd := p.execCommand(ctx, p.binary, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(strings.Join(args[:min(2, len(args))], " "), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

func commandError(op, stderr string, err error) error {
	stderr = strings.TrimSpace(stderr)
	if isNotFound(stderr) {
		return fmt.Errorf("gh %s: %s: %w", op, stderr, domain.ErrNotFound)
	}
	return fmt.Errorf("gh %s: %s: %w", op, stderr, err)
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "could not resolve to") ||
		strings.Contains(s, "http 404") ||
		strings.Contains(s, "not found")
}

// repoArg renders coordinates the way gh expects: OWNER/REPO on github.com,
// HOST/OWNER/REPO elsewhere.
func repoArg(c repository.Coordinates) string {
	if c.Host == "" || c.Host == "github.com" {
		return c.FullName()
	}
	return c.Host + "/" + c.FullName()
}

func hostnameArgs(c repository.Coordinates) []string {
	if c.Host == "" || c.Host == "github.com" {
		return nil
	}
	return []string{"--hostname", c.Host}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func numberFromURL(url string) (int, error) {
	i := strings.LastIndexByte(url, '/')
	if i < 0 {
		return 0, fmt.Errorf("unexpected gh pr create output %q", url)
	}
	n, err := strconv.Atoi(url[i+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected gh pr create output %q: %w", url, err)
	}
	return n, nil
}
