// Package hostingtest provides an in-memory hosting.Platform for tests.
package hostingtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
)

// Fake is a scriptable in-memory platform. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	User         string
	Repos        map[string]*hosting.Repository
	Issues       map[int]*hosting.Issue
	Pulls        map[int]*hosting.PullRequest
	IssueComment map[int][]hosting.Comment
	PullComment  map[int][]hosting.Comment

	// ForkVisibleAfter makes ForkExists report false for the first N calls
	// after CreateFork, simulating propagation delay.
	ForkVisibleAfter int
	// ForkAlreadyExists makes CreateFork return hosting.ErrForkExists.
	ForkAlreadyExists bool
	// Err, when set, is returned by every call.
	Err error
	// FailOn maps call prefixes to the error they return.
	FailOn map[string]error

	Calls        []string
	forkCreated  bool
	forkChecks   int
	readyMarked  []int
	createdPulls []hosting.NewPullRequest
	nextPull     int
}

// New returns a Fake acting as user.
func New(user string) *Fake {
	return &Fake{
		User:         user,
		Repos:        make(map[string]*hosting.Repository),
		Issues:       make(map[int]*hosting.Issue),
		Pulls:        make(map[int]*hosting.PullRequest),
		IssueComment: make(map[int][]hosting.Comment),
		PullComment:  make(map[int][]hosting.Comment),
		nextPull:     100,
	}
}

// AddRepo registers repository metadata.
func (f *Fake) AddRepo(r hosting.Repository) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Repos[r.Coordinates.FullName()] = &r
}

func (f *Fake) record(call string) error {
	f.Calls = append(f.Calls, call)
	for prefix, err := range f.FailOn {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return f.Err
}

// Fail makes calls starting with prefix return err.
func (f *Fake) Fail(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOn == nil {
		f.FailOn = make(map[string]error)
	}
	f.FailOn[prefix] = err
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) CurrentUser(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CurrentUser"); err != nil {
		return "", err
	}
	return f.User, nil
}

func (f *Fake) Repository(_ context.Context, repo repository.Coordinates) (*hosting.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Repository " + repo.FullName()); err != nil {
		return nil, err
	}
	r, ok := f.Repos[repo.FullName()]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repo.FullName(), domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) ForkExists(_ context.Context, upstream repository.Coordinates, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ForkExists " + owner); err != nil {
		return false, err
	}
	if f.forkCreated {
		f.forkChecks++
		return f.forkChecks > f.ForkVisibleAfter, nil
	}
	fork := repository.Coordinates{Host: upstream.Host, Owner: owner, Name: upstream.Name}
	r, ok := f.Repos[fork.FullName()]
	return ok && r.Parent != nil, nil
}

func (f *Fake) CreateFork(_ context.Context, upstream repository.Coordinates) (repository.Coordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateFork " + upstream.FullName()); err != nil {
		return repository.Coordinates{}, err
	}
	fork := repository.Coordinates{Host: upstream.Host, Owner: f.User, Name: upstream.Name}
	f.forkCreated = true
	if f.ForkAlreadyExists {
		return fork, hosting.ErrForkExists
	}
	return fork, nil
}

func (f *Fake) Issue(_ context.Context, _ repository.Coordinates, number int) (*hosting.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("Issue %d", number)); err != nil {
		return nil, err
	}
	is, ok := f.Issues[number]
	if !ok {
		return nil, fmt.Errorf("issue %d: %w", number, domain.ErrNotFound)
	}
	cp := *is
	return &cp, nil
}

func (f *Fake) PullRequest(_ context.Context, _ repository.Coordinates, number int) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("PullRequest %d", number)); err != nil {
		return nil, err
	}
	pr, ok := f.Pulls[number]
	if !ok {
		return nil, fmt.Errorf("pull request %d: %w", number, domain.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (f *Fake) FindPullRequestForBranchPrefix(_ context.Context, _ repository.Coordinates, prefix string) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindPullRequestForBranchPrefix " + prefix); err != nil {
		return nil, err
	}
	var best *hosting.PullRequest
	for _, pr := range f.Pulls {
		if pr.State != "open" || !strings.HasPrefix(pr.HeadBranch, prefix) {
			continue
		}
		if best == nil || pr.Number > best.Number {
			best = pr
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *Fake) Comments(_ context.Context, _ repository.Coordinates, kind repository.Kind, number int, since time.Time) ([]hosting.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("Comments %s %d", kind, number)); err != nil {
		return nil, err
	}
	src := f.IssueComment[number]
	if kind == repository.KindPull {
		src = f.PullComment[number]
	}
	var out []hosting.Comment
	for _, c := range src {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) CreatePullRequest(_ context.Context, repo repository.Coordinates, pr hosting.NewPullRequest) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePullRequest " + pr.Head); err != nil {
		return nil, err
	}
	f.nextPull++
	head := pr.Head
	owner := repo.Owner
	if i := strings.IndexByte(head, ':'); i >= 0 {
		owner, head = head[:i], head[i+1:]
	}
	created := &hosting.PullRequest{
		Number:     f.nextPull,
		Title:      pr.Title,
		URL:        fmt.Sprintf("https://%s/%s/pull/%d", repo.Host, repo.FullName(), f.nextPull),
		State:      "open",
		Draft:      pr.Draft,
		BaseBranch: pr.Base,
		HeadBranch: head,
		HeadOwner:  owner,
	}
	f.Pulls[created.Number] = created
	f.createdPulls = append(f.createdPulls, pr)
	cp := *created
	return &cp, nil
}

func (f *Fake) MarkReady(_ context.Context, _ repository.Coordinates, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("MarkReady %d", number)); err != nil {
		return err
	}
	if pr, ok := f.Pulls[number]; ok {
		pr.Draft = false
	}
	f.readyMarked = append(f.readyMarked, number)
	return nil
}

// SetPullMerged flips a pull request to merged.
func (f *Fake) SetPullMerged(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr, ok := f.Pulls[number]; ok {
		pr.State = "merged"
		pr.Merged = true
	}
}

// AddPullComment appends a comment to a pull request.
func (f *Fake) AddPullComment(number int, c hosting.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PullComment[number] = append(f.PullComment[number], c)
}

// ReadyMarked returns the pull requests passed to MarkReady.
func (f *Fake) ReadyMarked() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.readyMarked)
}

// CreatedPulls returns every CreatePullRequest request.
func (f *Fake) CreatedPulls() []hosting.NewPullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.createdPulls)
}

// CallCount returns how many recorded calls start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

var _ hosting.Platform = (*Fake)(nil)
