package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/port/hosting/hostingtest"
	"github.com/Strob0t/IssueForge/internal/resilience"
	"github.com/Strob0t/IssueForge/internal/service"
)

// remotes maps repository full names to local bare repositories.
type remotes map[string]string

func (r remotes) url(c repository.Coordinates) string { return r[c.FullName()] }

func fastRetry(attempts int) resilience.Policy {
	return resilience.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

type acquireFixture struct {
	fake     *hostingtest.Fake
	upstream string
	fork     string
	remotes  remotes
	acquirer *service.Acquirer
	sess     *session.Session
}

func newAcquireFixture(t *testing.T, attempts int) *acquireFixture {
	t.Helper()
	upstream := newBareRemote(t)
	fork := filepath.Join(t.TempDir(), "fork.git")
	gitCmd(t, filepath.Dir(fork), "clone", "--bare", upstream, fork)

	fake := hostingtest.New("bot")
	fake.AddRepo(hosting.Repository{Coordinates: widgets, DefaultBranch: "main", Visibility: repository.VisibilityPrivate})

	rs := remotes{"acme/widgets": upstream, "bot/widgets": fork}
	g := newRunner()
	return &acquireFixture{
		fake:     fake,
		upstream: upstream,
		fork:     fork,
		remotes:  rs,
		acquirer: service.NewAcquirer(g, fake, service.NewDivergenceResolver(g, nil), fastRetry(attempts), service.WithCloneURL(rs.url)),
		sess: &session.Session{
			ID:      "s1",
			Issue:   repository.Reference{Repo: widgets, Kind: repository.KindIssue, Number: 42},
			WorkDir: filepath.Join(t.TempDir(), "work", "acme-widgets-42"),
		},
	}
}

func TestAcquirer_Direct(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 3)

	h, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Forked() {
		t.Error("direct acquisition must not fork")
	}
	if h.Visibility != repository.VisibilityPrivate || h.DefaultBranch != "main" {
		t.Errorf("metadata not recorded: %+v", h)
	}
	if got := gitCmd(t, h.Dir, "remote", "get-url", "origin"); got != f.upstream {
		t.Errorf("origin = %s, want upstream", got)
	}
	if f.fake.CallCount("CreateFork") != 0 {
		t.Error("direct acquisition must not create a fork")
	}

	// A second acquisition reuses the clone.
	if _, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{}); err != nil {
		t.Fatalf("reuse: %v", err)
	}
}

func TestAcquirer_ForkCreatedAfterPropagationDelay(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 5)
	f.fake.ForkVisibleAfter = 2

	// Upstream moves ahead of the fork.
	seed := cloneRemote(t, f.upstream)
	tip := commitFile(t, seed, "new.txt", "new\n", "upstream change")
	gitCmd(t, seed, "push", "origin", "main")

	h, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{Fork: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Fork == nil || h.Fork.FullName() != "bot/widgets" {
		t.Fatalf("expected bot/widgets fork, got %+v", h.Fork)
	}
	if h.BaseRef() != "upstream/main" {
		t.Errorf("BaseRef = %s", h.BaseRef())
	}
	if got := gitCmd(t, h.Dir, "remote", "get-url", "origin"); got != f.fork {
		t.Errorf("origin should be the fork, got %s", got)
	}
	if got := gitCmd(t, h.Dir, "remote", "get-url", "upstream"); got != f.upstream {
		t.Errorf("upstream remote = %s", got)
	}
	// 1 pre-check + 3 verification calls (2 invisible, 1 visible).
	if n := f.fake.CallCount("ForkExists"); n != 4 {
		t.Errorf("ForkExists calls = %d, want 4", n)
	}
	if got := gitCmd(t, f.fork, "rev-parse", "main"); got != tip {
		t.Errorf("fork default branch not synced: %s, want %s", got, tip)
	}
}

func TestAcquirer_ForkAlreadyExistsIsSuccess(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 3)
	f.fake.ForkAlreadyExists = true

	h, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{Fork: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !h.Forked() {
		t.Error("expected forked handle")
	}
}

func TestAcquirer_ExistingForkSkipsCreate(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 3)
	f.fake.AddRepo(hosting.Repository{
		Coordinates:   repository.Coordinates{Host: "github.com", Owner: "bot", Name: "widgets"},
		DefaultBranch: "main",
		Parent:        &widgets,
	})

	if _, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{Fork: true}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if n := f.fake.CallCount("CreateFork"); n != 0 {
		t.Errorf("CreateFork calls = %d, want 0", n)
	}
}

func TestAcquirer_ForkNeverVisible(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 3)
	f.fake.ForkVisibleAfter = 100

	_, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{Fork: true})
	if domain.KindOf(err) != domain.KindAcquisition {
		t.Fatalf("expected acquisition error, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"bot/widgets", "acme/widgets", "3 attempts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}

func TestAcquirer_UnknownRepository(t *testing.T) {
	requireGit(t)
	f := newAcquireFixture(t, 1)
	f.sess.Issue.Repo = repository.Coordinates{Host: "github.com", Owner: "acme", Name: "missing"}

	_, err := f.acquirer.Acquire(context.Background(), f.sess, session.Config{})
	if domain.KindOf(err) != domain.KindAcquisition {
		t.Fatalf("expected acquisition error, got %v", err)
	}
}
