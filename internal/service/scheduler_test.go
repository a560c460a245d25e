package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/IssueForge/internal/adapter/filestore"
	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/domain/task"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/port/hosting/hostingtest"
	"github.com/Strob0t/IssueForge/internal/service"
)

// agentStep scripts one agent invocation.
type agentStep struct {
	outcome   task.Outcome
	resetTime string
	sessionID string
	action    func(ctx context.Context, t *task.Task) error
}

// fakeAgent replays scripted steps; once they run out it succeeds.
type fakeAgent struct {
	mu    sync.Mutex
	steps []agentStep
	tasks []task.Task
}

func (a *fakeAgent) Name() string { return "fake" }

func (a *fakeAgent) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	a.mu.Lock()
	a.tasks = append(a.tasks, *t)
	step := agentStep{outcome: task.OutcomeSuccess}
	if len(a.steps) > 0 {
		step, a.steps = a.steps[0], a.steps[1:]
	}
	a.mu.Unlock()

	res := &task.Result{Outcome: step.outcome, ResetTime: step.resetTime, SessionID: step.sessionID}
	if step.action != nil {
		if err := step.action(ctx, t); err != nil {
			return res, err
		}
	}
	if step.outcome == task.OutcomeError {
		res.ExitCode = 1
		res.Error = "boom"
	}
	return res, nil
}

func (a *fakeAgent) Tasks() []task.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.tasks)
}

type schedFixture struct {
	t        *testing.T
	upstream string
	fake     *hostingtest.Fake
	agent    *fakeAgent
	store    *filestore.Store
	workRoot string
	sleeps   []time.Duration
	now      func() time.Time
	// watchFailures overrides the consecutive failed poll limit.
	watchFailures int
}

func newSchedFixture(t *testing.T, visibility repository.Visibility) *schedFixture {
	t.Helper()
	requireGit(t)
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fake := hostingtest.New("bot")
	fake.AddRepo(hosting.Repository{Coordinates: widgets, DefaultBranch: "main", Visibility: visibility})
	fake.Issues[42] = &hosting.Issue{Number: 42, Title: "Widgets break on Tuesdays", State: "open"}
	return &schedFixture{
		t:        t,
		upstream: newBareRemote(t),
		fake:     fake,
		agent:    &fakeAgent{},
		store:    store,
		workRoot: t.TempDir(),
	}
}

func (f *schedFixture) scheduler() *service.Scheduler {
	g := newRunner()
	rs := remotes{"acme/widgets": f.upstream}
	resolver := service.NewDivergenceResolver(g, nil)
	return service.NewScheduler(service.SchedulerDeps{
		Acquirer: service.NewAcquirer(g, f.fake, resolver, fastRetry(3), service.WithCloneURL(rs.url)),
		Branches: service.NewBranchManager(g, f.fake, "issue"),
		Markers:  service.NewMarkerController(g, "AGENTS.md", false),
		Gate:     service.NewFeedbackGate(f.fake, nil),
		Resolver: resolver,
		Agent:    f.agent,
		Hosting:  f.fake,
		Git:      g,
		Store:    f.store,
		Events:   service.NewEvents(nil, nil),
	}, service.SchedulerOptions{
		Transient:         fastRetry(3),
		DraftPR:           true,
		WatchFailureLimit: f.watchFailures,
		Now:               f.now,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	})
}

func (f *schedFixture) issueConfig() session.Config {
	return session.Config{
		Target:    repository.Reference{Repo: widgets, Kind: repository.KindIssue, Number: 42},
		Retention: session.RetentionAuto,
		WorkRoot:  f.workRoot,
	}
}

// commitFix returns an agent action that commits a file in the work dir.
func (f *schedFixture) commitFix(name string) func(context.Context, *task.Task) error {
	return func(_ context.Context, tk *task.Task) error {
		commitFile(f.t, tk.WorkDir, name, "fixed\n", "fix "+name)
		return nil
	}
}

// remoteLog returns the commit subjects of branch in the upstream remote.
func (f *schedFixture) remoteLog(branch string) []string {
	return strings.Split(gitCmd(f.t, f.upstream, "log", "--format=%s", branch), "\n")
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func TestScheduler_FreshIssueSuccess(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.agent.steps = []agentStep{{outcome: task.OutcomeSuccess, action: f.commitFix("fix.txt")}}

	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationSuccess {
		t.Fatalf("termination = %s", out.Termination)
	}

	br := out.Session.Branch.Name
	subjects := f.remoteLog(br)
	if countPrefix(subjects, "Add task details") != 1 || countPrefix(subjects, "Revert ") != 1 {
		t.Errorf("expected one marker and one revert commit, got %v", subjects)
	}
	if files := gitCmd(t, f.upstream, "ls-tree", "--name-only", br); strings.Contains(files, "AGENTS.md") {
		t.Errorf("marker file must not survive on the branch: %s", files)
	}

	pulls := f.fake.CreatedPulls()
	if len(pulls) != 1 || !pulls[0].Draft || pulls[0].Head != br || pulls[0].Title != "Widgets break on Tuesdays" {
		t.Errorf("unexpected pull requests %+v", pulls)
	}
	if ready := f.fake.ReadyMarked(); len(ready) != 1 {
		t.Errorf("draft pull request should be marked ready, got %v", ready)
	}
	if tasks := f.agent.Tasks(); len(tasks) != 1 || tasks[0].Directive != task.DirectiveProceed {
		t.Errorf("unexpected agent tasks %+v", tasks)
	}
	if !out.KeptWorkDir {
		t.Error("public repository work dir should be kept")
	}
}

func TestScheduler_PrivateWorkDirDeleted(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPrivate)

	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.KeptWorkDir {
		t.Error("private repository work dir should be deleted")
	}
	if _, err := os.Stat(out.Session.WorkDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("work dir still exists: %v", err)
	}
}

func TestScheduler_LimitPauseThenResume(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPrivate)
	f.agent.steps = []agentStep{{outcome: task.OutcomeLimit, resetTime: "5:30am", sessionID: "agent-abc"}}
	cfg := f.issueConfig()
	cfg.Retention = session.RetentionDelete

	out, err := f.scheduler().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationLimit || out.ResumeToken == "" {
		t.Fatalf("expected limit pause with token, got %+v", out)
	}
	if !out.KeptWorkDir {
		t.Error("a pending resume token must keep the work dir despite delete retention")
	}
	paused, err := f.store.Load(context.Background(), out.ResumeToken)
	if err != nil {
		t.Fatalf("paused session not stored: %v", err)
	}
	if paused.AgentSessionID != "agent-abc" || paused.Marker == nil || paused.ResetAt.IsZero() {
		t.Errorf("unexpected paused session %+v", paused)
	}

	// Resume with the token and only the repository URL.
	f.agent.steps = []agentStep{{outcome: task.OutcomeSuccess, action: f.commitFix("fix.txt")}}
	resume := session.Config{
		Target:      repository.Reference{Repo: widgets, Kind: repository.KindRepository},
		ResumeToken: out.ResumeToken,
		Retention:   session.RetentionAuto,
		WorkRoot:    f.workRoot,
	}
	out2, err := f.scheduler().Run(context.Background(), resume)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if out2.Termination != session.TerminationSuccess {
		t.Fatalf("resume termination = %s", out2.Termination)
	}
	tasks := f.agent.Tasks()
	last := tasks[len(tasks)-1]
	if last.ResumeSessionID != "agent-abc" || last.Directive != task.DirectiveContinue {
		t.Errorf("resumed task should continue agent-abc, got %+v", last)
	}
	subjects := f.remoteLog(out2.Session.Branch.Name)
	if countPrefix(subjects, "Add task details") != 1 {
		t.Errorf("resume must not write a second marker: %v", subjects)
	}
	if countPrefix(subjects, "Revert ") != 1 {
		t.Errorf("resume must revert the original marker: %v", subjects)
	}
	if _, err := f.store.Load(context.Background(), out.ResumeToken); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("token should be deleted after success, got %v", err)
	}
	if !out2.KeptWorkDir {
		t.Error("a resumed session keeps its work dir")
	}
}

func TestScheduler_AutoResumeSleepsUntilReset(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.now = func() time.Time { return time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC) }
	f.agent.steps = []agentStep{
		{outcome: task.OutcomeLimit, resetTime: "5:30am", sessionID: "agent-abc"},
		{outcome: task.OutcomeSuccess, action: f.commitFix("fix.txt")},
	}
	cfg := f.issueConfig()
	cfg.AutoResume = true

	out, err := f.scheduler().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationSuccess {
		t.Fatalf("termination = %s", out.Termination)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 90*time.Minute {
		t.Errorf("expected one 90m sleep, got %v", f.sleeps)
	}
	tasks := f.agent.Tasks()
	if len(tasks) != 2 || tasks[1].ResumeSessionID != "agent-abc" {
		t.Errorf("second run should resume agent-abc, got %+v", tasks)
	}
	if out.ResumeToken != "" {
		t.Error("token should be cleared after success")
	}
}

func TestScheduler_TransientRetriedOnSameBranch(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.agent.steps = []agentStep{
		{outcome: task.OutcomeTransient},
		{outcome: task.OutcomeSuccess, action: f.commitFix("fix.txt")},
	}

	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tasks := f.agent.Tasks()
	if len(tasks) != 2 || tasks[0].Branch != tasks[1].Branch {
		t.Fatalf("retry should reuse the branch, got %+v", tasks)
	}
	if n := countPrefix(f.remoteLog(out.Session.Branch.Name), "Add task details"); n != 1 {
		t.Errorf("retry must not write another marker, got %d", n)
	}
}

func TestScheduler_TransientExhausted(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.agent.steps = []agentStep{
		{outcome: task.OutcomeTransient},
		{outcome: task.OutcomeTransient},
		{outcome: task.OutcomeTransient},
	}

	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if out.Termination != session.TerminationError {
		t.Errorf("termination = %s", out.Termination)
	}
	if n := len(f.agent.Tasks()); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestScheduler_AgentErrorIsFatal(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.agent.steps = []agentStep{{outcome: task.OutcomeError}}

	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if domain.KindOf(err) != domain.KindAgent {
		t.Fatalf("expected agent error, got %v", err)
	}
	if out.Termination != session.TerminationError {
		t.Errorf("termination = %s", out.Termination)
	}
}

// publishPull pushes a branch with one commit ahead of main and registers
// pull request 7 for it.
func (f *schedFixture) publishPull(withCommit, merged bool) {
	work := cloneRemote(f.t, f.upstream)
	gitCmd(f.t, work, "checkout", "-b", "issue-42-abcdef01")
	if withCommit {
		commitFile(f.t, work, "partial.txt", "partial\n", "partial work")
	}
	gitCmd(f.t, work, "push", "origin", "issue-42-abcdef01")
	state := "open"
	if merged {
		state = "merged"
	}
	f.fake.Pulls[7] = &hosting.PullRequest{
		Number: 7, State: state, Merged: merged,
		HeadBranch: "issue-42-abcdef01", HeadOwner: "acme", BaseBranch: "main",
	}
}

func (f *schedFixture) pullConfig() session.Config {
	cfg := f.issueConfig()
	cfg.Target = repository.Reference{Repo: widgets, Kind: repository.KindPull, Number: 7}
	return cfg
}

func TestScheduler_ContinueGatedWithoutFeedback(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.publishPull(true, false)
	cfg := f.pullConfig()
	cfg.GateOnFeedback = true

	out, err := f.scheduler().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationNoFeedback {
		t.Fatalf("termination = %s", out.Termination)
	}
	if n := len(f.agent.Tasks()); n != 0 {
		t.Errorf("agent must not run, ran %d times", n)
	}
	if n := countPrefix(f.remoteLog("issue-42-abcdef01"), "Add task details"); n != 0 {
		t.Errorf("no marker may be written, got %d", n)
	}
}

func TestScheduler_ContinueWithFeedback(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.publishPull(true, false)
	f.fake.AddPullComment(7, hosting.Comment{ID: "1", Author: "alice", Body: "please add tests", CreatedAt: time.Now().Add(time.Hour)})
	cfg := f.pullConfig()
	cfg.GateOnFeedback = true

	out, err := f.scheduler().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationSuccess {
		t.Fatalf("termination = %s", out.Termination)
	}
	tasks := f.agent.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one agent run, got %d", len(tasks))
	}
	if tasks[0].Directive != task.DirectiveContinue {
		t.Errorf("continue mode should send the continue directive")
	}
	if !slices.Contains(tasks[0].FeedbackLines, "New comments on the pull request: 1") {
		t.Errorf("feedback lines missing count: %v", tasks[0].FeedbackLines)
	}
	if len(f.fake.CreatedPulls()) != 0 {
		t.Error("continue mode must not open a new pull request")
	}
}

func TestScheduler_ContinueMergedBranchRefused(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.publishPull(false, true)

	out, err := f.scheduler().Run(context.Background(), f.pullConfig())
	if !errors.Is(err, service.ErrMergedBranch) {
		t.Fatalf("expected ErrMergedBranch, got %v", err)
	}
	if out.Termination != session.TerminationError {
		t.Errorf("termination = %s", out.Termination)
	}
	if n := countPrefix(f.remoteLog("issue-42-abcdef01"), "Add task details"); n != 0 {
		t.Errorf("no marker may be written to a merged branch, got %d", n)
	}
}

func TestScheduler_CancelledDuringAgent(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPrivate)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.agent.steps = []agentStep{{outcome: task.OutcomeError, action: func(ctx context.Context, _ *task.Task) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}}

	out, err := f.scheduler().Run(ctx, f.issueConfig())
	if err != nil {
		t.Fatalf("user stop should not be an error, got %v", err)
	}
	if out.Termination != session.TerminationUserStop {
		t.Fatalf("termination = %s", out.Termination)
	}
	if out.KeptWorkDir {
		t.Error("retention still applies on interrupt: private work dir should be deleted")
	}
}

func TestScheduler_UnknownResumeToken(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	cfg := f.issueConfig()
	cfg.ResumeToken = "no-such-token"

	_, err := f.scheduler().Run(context.Background(), cfg)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScheduler_WatchGivesUpAfterRepeatedFailures(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	f.watchFailures = 3
	apiDown := errors.New("api down")
	f.agent.steps = []agentStep{
		{outcome: task.OutcomeSuccess, action: func(_ context.Context, tk *task.Task) error {
			commitFile(t, tk.WorkDir, "fix.txt", "v1\n", "first pass")
			f.fake.Fail("CurrentUser", apiDown)
			return nil
		}},
	}
	cfg := f.issueConfig()
	cfg.Watch = true
	cfg.WatchInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := f.scheduler().Run(ctx, cfg)
	if !errors.Is(err, apiDown) {
		t.Fatalf("expected the hosting error, got %v", err)
	}
	if domain.KindOf(err) != domain.KindTransient {
		t.Errorf("kind = %s, want transient", domain.KindOf(err))
	}
	if out.Termination != session.TerminationError {
		t.Errorf("termination = %s, want error", out.Termination)
	}
	if n := f.fake.CallCount("CurrentUser"); n < 3 {
		t.Errorf("expected at least three failed polls, got %d", n)
	}
	if ctx.Err() != nil {
		t.Error("watch should give up before the deadline")
	}
}

func TestScheduler_WatchIteratesUntilMerged(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	pullOf := func(tk *task.Task) int {
		ref, err := repository.ParseReference(tk.PullURL)
		if err != nil {
			t.Errorf("task has no pull URL: %v", err)
			return 0
		}
		return ref.Number
	}
	f.agent.steps = []agentStep{
		{outcome: task.OutcomeSuccess, action: func(_ context.Context, tk *task.Task) error {
			commitFile(t, tk.WorkDir, "fix.txt", "v1\n", "first pass")
			f.fake.AddPullComment(pullOf(tk), hosting.Comment{ID: "1", Author: "alice", CreatedAt: time.Now().Add(time.Millisecond)})
			return nil
		}},
		{outcome: task.OutcomeSuccess, action: func(_ context.Context, tk *task.Task) error {
			commitFile(t, tk.WorkDir, "fix.txt", "v2\n", "address review")
			f.fake.SetPullMerged(pullOf(tk))
			return nil
		}},
	}
	cfg := f.issueConfig()
	cfg.Watch = true
	cfg.WatchInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := f.scheduler().Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != session.TerminationMerged {
		t.Fatalf("termination = %s", out.Termination)
	}
	tasks := f.agent.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected two agent runs, got %d", len(tasks))
	}
	if tasks[1].Directive != task.DirectiveContinue || !slices.Contains(tasks[1].FeedbackLines, "New comments on the pull request: 1") {
		t.Errorf("second run should continue with feedback, got %+v", tasks[1])
	}
	subjects := f.remoteLog(out.Session.Branch.Name)
	if countPrefix(subjects, "Add task details") != 2 || countPrefix(subjects, "Revert ") != 2 {
		t.Errorf("each iteration writes and reverts its own marker: %v", subjects)
	}
}

func TestScheduler_WorkDirUnderRoot(t *testing.T) {
	f := newSchedFixture(t, repository.VisibilityPublic)
	out, err := f.scheduler().Run(context.Background(), f.issueConfig())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(out.Session.WorkDir) != f.workRoot {
		t.Errorf("work dir %s not under %s", out.Session.WorkDir, f.workRoot)
	}
	if !strings.HasPrefix(filepath.Base(out.Session.WorkDir), "acme-widgets-42-") {
		t.Errorf("unexpected work dir name %s", filepath.Base(out.Session.WorkDir))
	}
}
