package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ifotel "github.com/Strob0t/IssueForge/internal/adapter/otel"
	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/branch"
	"github.com/Strob0t/IssueForge/internal/domain/feedback"
	"github.com/Strob0t/IssueForge/internal/domain/marker"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/domain/task"
	"github.com/Strob0t/IssueForge/internal/git"
	"github.com/Strob0t/IssueForge/internal/logger"
	"github.com/Strob0t/IssueForge/internal/port/agentbackend"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/port/messagequeue"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore"
	"github.com/Strob0t/IssueForge/internal/resilience"
)

// Scheduler states, as reported in events and spans.
const (
	StateInit      = "INIT"
	StateAcquire   = "ACQUIRE"
	StateBranch    = "BRANCH"
	StateMark      = "MARK"
	StateRunAgent  = "RUN_AGENT"
	StateSuccess   = "SUCCESS"
	StateLimit     = "LIMIT_REACHED"
	StateTransient = "TRANSIENT_ERROR"
	StateWatch     = "WATCH"
	StateFatal     = "FATAL"
)

var errAgentTransient = errors.New("agent reported a transient failure")

// SchedulerDeps are the collaborators of a Scheduler. Events, Metrics,
// Breaker and Nudges may be nil.
type SchedulerDeps struct {
	Acquirer *Acquirer
	Branches *BranchManager
	Markers  *MarkerController
	Gate     *FeedbackGate
	Resolver *DivergenceResolver
	Agent    agentbackend.Backend
	Hosting  hosting.Platform
	Git      *git.Runner
	Store    sessionstore.Store
	Events   *Events
	Metrics  *ifotel.Metrics
	Breaker  *resilience.Breaker
	Nudges   messagequeue.Queue
}

// SchedulerOptions tune scheduler behavior.
type SchedulerOptions struct {
	// Transient bounds agent retries after transient failures.
	Transient resilience.Policy
	// DraftPR opens new pull requests as drafts and marks them ready on success.
	DraftPR bool
	// ResumeBuffer is added to the computed wait before an automatic resume.
	ResumeBuffer time.Duration
	// WatchFailureLimit ends WATCH with an error after this many consecutive
	// failed polls. Zero means DefaultWatchFailureLimit.
	WatchFailureLimit int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome summarizes a finished session.
type Outcome struct {
	Session     *session.Session
	Termination session.Termination
	// ResumeToken is set when the session paused on a usage limit.
	ResumeToken string
	ResetAt     time.Time
	KeptWorkDir bool
}

// Scheduler drives one session through its states.
type Scheduler struct {
	d    SchedulerDeps
	opts SchedulerOptions

	watching atomic.Pointer[nudgeTarget]
	nudged   chan struct{}
}

// nudgeTarget identifies the items whose activity wakes the watch loop.
type nudgeTarget struct {
	owner, name string
	issue, pull int
}

func (t *nudgeTarget) matches(owner, name string, number int) bool {
	return strings.EqualFold(t.owner, owner) && strings.EqualFold(t.name, name) &&
		number > 0 && (number == t.issue || number == t.pull)
}

// DefaultWatchFailureLimit is the consecutive failed watch polls tolerated
// before the session fails.
const DefaultWatchFailureLimit = 10

// NewScheduler creates a Scheduler.
func NewScheduler(d SchedulerDeps, opts SchedulerOptions) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.WatchFailureLimit <= 0 {
		opts.WatchFailureLimit = DefaultWatchFailureLimit
	}
	return &Scheduler{d: d, opts: opts, nudged: make(chan struct{}, 1)}
}

// Nudge wakes a watching session when owner/name#number is its issue or
// pull request. It never blocks and is a no-op outside WATCH.
func (s *Scheduler) Nudge(owner, name string, number int) bool {
	t := s.watching.Load()
	if t == nil || !t.matches(owner, name, number) {
		return false
	}
	select {
	case s.nudged <- struct{}{}:
	default:
	}
	return true
}

// Run executes a session described by cfg. A usage-limit pause is a normal
// outcome carrying a resume token. Cancelling ctx stops the session with
// TerminationUserStop after any in-flight git operation completes.
func (s *Scheduler) Run(ctx context.Context, cfg session.Config) (*Outcome, error) {
	sess, err := s.init(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithSessionID(ctx, sess.ID)
	ctx, span := ifotel.StartSessionSpan(ctx, sess.ID, sess.Issue.String())
	defer span.End()

	if s.d.Metrics != nil {
		s.d.Metrics.SessionsStarted.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "session started", "target", sess.Issue.String(), "resumed", cfg.ResumeToken != "")
	s.d.Events.Emit(ctx, sess, EventStarted, StateInit, "")

	runErr := s.drive(ctx, sess, cfg)
	out, err := s.finish(ctx, sess, cfg, runErr)
	span.SetAttributes(attribute.String("session.termination", string(out.Termination)))
	return out, err
}

func (s *Scheduler) init(ctx context.Context, cfg session.Config) (*session.Session, error) {
	if cfg.ResumeToken != "" {
		sess, err := s.d.Store.Load(ctx, cfg.ResumeToken)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.KindValidation, "resume session",
				"No paused session has this token. Use the token printed when the session paused, or start again from the issue URL.",
				err)
		}
		if err != nil {
			return nil, fmt.Errorf("load paused session: %w", err)
		}
		if !cfg.Target.Repo.IsZero() && !strings.EqualFold(cfg.Target.Repo.FullName(), sess.Issue.Repo.FullName()) {
			return nil, domain.Errorf(domain.KindValidation, "resume session",
				fmt.Sprintf("The token belongs to a session on %s, not %s.", sess.Issue.Repo.FullName(), cfg.Target.Repo.FullName()),
				domain.ErrValidation)
		}
		sess.Termination = session.TerminationNone
		return sess, nil
	}

	now := s.opts.Now().UTC()
	id := uuid.NewString()
	sess := &session.Session{
		ID:        id,
		Issue:     cfg.Target,
		WorkDir:   filepath.Join(cfg.WorkRoot, workDirName(cfg.Target, id)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cfg.Target.Kind == repository.KindPull {
		pull := cfg.Target
		sess.Pull = &pull
	}
	return sess, nil
}

func workDirName(ref repository.Reference, id string) string {
	return fmt.Sprintf("%s-%s-%d-%s", ref.Repo.Owner, ref.Repo.Name, ref.Number, id[:8])
}

// enter records a state transition and opens its span.
func (s *Scheduler) enter(ctx context.Context, sess *session.Session, state string) (context.Context, func()) {
	slog.InfoContext(ctx, "entering state", "state", state, "iteration", sess.Iteration)
	s.d.Events.Emit(ctx, sess, EventState, state, "")
	ctx, span := ifotel.StartStateSpan(ctx, state, sess.Iteration)
	return ctx, func() { span.End() }
}

func (s *Scheduler) drive(ctx context.Context, sess *session.Session, cfg session.Config) error {
	actx, end := s.enter(ctx, sess, StateAcquire)
	h, err := s.d.Acquirer.Acquire(actx, sess, cfg)
	end()
	if err != nil {
		return err
	}
	sess.Repository = h

	bctx, end := s.enter(ctx, sess, StateBranch)
	ref, err := s.d.Branches.Prepare(bctx, h, sess, cfg)
	if err == nil && sess.Checkpoint.IsZero() {
		sess.Checkpoint, err = s.initialCheckpoint(bctx, h, ref)
	}
	end()
	if err != nil {
		return err
	}
	sess.Branch = ref

	var snap *feedback.Snapshot
	if sess.Pull != nil && cfg.ResumeToken == "" {
		checkpoint := s.opts.Now().UTC()
		snap, err = s.d.Gate.Evaluate(ctx, sess, cfg.GateOnFeedback)
		if err != nil {
			return err
		}
		if !snap.ShouldContinue {
			slog.InfoContext(ctx, "no new feedback since the last session; nothing to do")
			sess.Termination = session.TerminationNoFeedback
			return nil
		}
		sess.Checkpoint = checkpoint
	}

	for {
		term, err := s.iterate(ctx, sess, cfg, snap)
		if err != nil {
			return err
		}
		if term != session.TerminationSuccess || !cfg.Watch {
			sess.Termination = term
			return nil
		}

		var merged bool
		snap, merged, err = s.watch(ctx, sess, cfg)
		if err != nil {
			return err
		}
		if merged {
			sess.Termination = session.TerminationMerged
			return nil
		}
	}
}

// initialCheckpoint counts feedback on a continued branch from its last
// commit, and on a fresh branch from now.
func (s *Scheduler) initialCheckpoint(ctx context.Context, h *repository.Handle, ref *branch.Ref) (time.Time, error) {
	if ref.State == branch.StateFresh {
		return s.opts.Now().UTC(), nil
	}
	t, err := s.d.Git.CommitTime(ctx, h.Dir, "HEAD")
	if err != nil {
		return time.Time{}, fmt.Errorf("read branch checkpoint: %w", err)
	}
	return t.UTC(), nil
}

// iterate runs MARK, RUN_AGENT and the terminal state of one agent
// iteration.
func (s *Scheduler) iterate(ctx context.Context, sess *session.Session, cfg session.Config, snap *feedback.Snapshot) (session.Termination, error) {
	sess.Iteration++
	var lines []string
	if snap != nil {
		lines = snap.Lines()
	}

	if sess.Marker == nil {
		mctx, end := s.enter(ctx, sess, StateMark)
		err := s.mark(mctx, sess, cfg, lines)
		end()
		if err != nil {
			return "", err
		}
	}

	for {
		rctx, end := s.enter(ctx, sess, StateRunAgent)
		res, err := s.runAgent(rctx, sess, lines)
		end()
		if err != nil {
			return "", err
		}

		switch res.Outcome {
		case task.OutcomeSuccess:
			sess.AgentSessionID = ""
			sctx, end := s.enter(ctx, sess, StateSuccess)
			err := s.succeed(sctx, sess, cfg)
			end()
			if err != nil {
				return "", err
			}
			return session.TerminationSuccess, nil

		case task.OutcomeLimit:
			lctx, end := s.enter(ctx, sess, StateLimit)
			wait, known, err := s.pause(lctx, sess, res)
			end()
			if err != nil {
				return "", err
			}
			if !cfg.AutoResume || !known {
				return session.TerminationLimit, nil
			}
			wait += s.opts.ResumeBuffer
			slog.InfoContext(ctx, "sleeping until the usage limit resets", "wait", wait, "reset_at", sess.ResetAt)
			if err := s.opts.Sleep(ctx, wait); err != nil {
				return "", err
			}
			slog.InfoContext(ctx, "resuming after usage limit reset", "agent_session_id", sess.AgentSessionID)

		default:
			return "", domain.Errorf(domain.KindAgent,
				fmt.Sprintf("run agent (exit code %d)", res.ExitCode),
				"Inspect the agent output above. The branch and its task marker are kept; re-run the same command to try again.",
				errors.New(firstNonEmpty(res.Error, "agent failed")))
		}
	}
}

// mark writes the task marker, pushes the branch and makes sure a pull
// request exists for it.
func (s *Scheduler) mark(ctx context.Context, sess *session.Session, cfg session.Config, lines []string) error {
	h := sess.Repository
	m, err := s.d.Markers.Write(ctx, h.Dir, sess.Branch, s.markerParams(sess, lines))
	if err != nil {
		return err
	}
	sess.Marker = m

	if err := s.pushBranch(ctx, sess, cfg); err != nil {
		return err
	}
	return s.ensurePull(ctx, sess)
}

func (s *Scheduler) markerParams(sess *session.Session, lines []string) marker.Params {
	p := marker.Params{
		IssueURL:      sess.Issue.String(),
		Branch:        sess.Branch.Name,
		WorkDir:       sess.WorkDir,
		FeedbackLines: lines,
	}
	if sess.Pull != nil {
		p.PullURL = sess.Pull.String()
	}
	if sess.Repository != nil && sess.Repository.Fork != nil {
		p.ForkFullName = sess.Repository.Fork.FullName()
	}
	return p
}

func (s *Scheduler) pushBranch(ctx context.Context, sess *session.Session, cfg session.Config) error {
	h := sess.Repository
	_, err := s.d.Resolver.Push(ctx, h.Dir, h.WriteRemote(), sess.Branch.Name, PushOptions{
		SetUpstream:         true,
		AllowForceWithLease: cfg.AllowForcePushWithLease,
	})
	return err
}

// ensurePull opens a pull request for the branch when none is known.
func (s *Scheduler) ensurePull(ctx context.Context, sess *session.Session) error {
	if sess.PullNumber() > 0 {
		if sess.Pull == nil {
			sess.Pull = &repository.Reference{Repo: sess.Issue.Repo, Kind: repository.KindPull, Number: sess.PullNumber()}
		}
		return nil
	}
	h := sess.Repository
	title := fmt.Sprintf("Resolve #%d", sess.Issue.Number)
	if is, err := s.d.Hosting.Issue(ctx, sess.Issue.Repo, sess.Issue.Number); err == nil {
		if t := sanitizeTitle(is.Title); t != "" {
			title = t
		}
	}
	head := sess.Branch.Name
	if h.Forked() {
		head = h.Fork.Owner + ":" + head
	}

	pr, err := s.d.Hosting.CreatePullRequest(ctx, sess.Issue.Repo, hosting.NewPullRequest{
		Head:  head,
		Base:  h.DefaultBranch,
		Title: title,
		Body:  fmt.Sprintf("Resolves #%d\n\nThis pull request is being worked on and will be updated automatically.", sess.Issue.Number),
		Draft: s.opts.DraftPR,
	})
	if err != nil {
		return fmt.Errorf("open pull request for %s: %w", head, err)
	}
	sess.Pull = &repository.Reference{Repo: sess.Issue.Repo, Kind: repository.KindPull, Number: pr.Number}
	sess.Branch.PullRequest = pr.Number
	slog.InfoContext(ctx, "pull request opened", "pull", pr.Number, "url", pr.URL, "draft", pr.Draft)
	return nil
}

// runAgent runs the agent, retrying transient failures on the same branch
// and marker.
func (s *Scheduler) runAgent(ctx context.Context, sess *session.Session, lines []string) (*task.Result, error) {
	t := &task.Task{
		ID:              sess.ID + "-" + strconv.Itoa(sess.Iteration),
		IssueURL:        sess.Issue.String(),
		Branch:          sess.Branch.Name,
		WorkDir:         sess.WorkDir,
		FeedbackLines:   lines,
		Directive:       task.DirectiveProceed,
		ResumeSessionID: sess.AgentSessionID,
	}
	if sess.Pull != nil {
		t.PullURL = sess.Pull.String()
	}
	if sess.Repository.Fork != nil {
		t.ForkFullName = sess.Repository.Fork.FullName()
	}
	if sess.Branch.State != branch.StateFresh || sess.Iteration > 1 || sess.AgentSessionID != "" {
		t.Directive = task.DirectiveContinue
	}
	prompt, err := renderPrompt(t)
	if err != nil {
		return nil, err
	}
	t.Prompt = prompt

	attempts := 0
	res, err := resilience.RetryValue(ctx, s.opts.Transient, func(attempt int) (*task.Result, error) {
		attempts = attempt
		start := s.opts.Now()
		r, err := s.d.Agent.Execute(ctx, t)
		if err != nil {
			return r, resilience.Permanent(err)
		}
		if s.d.Metrics != nil {
			s.d.Metrics.AgentRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(r.Outcome))))
			s.d.Metrics.AgentDuration.Record(ctx, s.opts.Now().Sub(start).Seconds())
		}
		if r.SessionID != "" {
			t.ResumeSessionID = r.SessionID
		}
		if r.Outcome == task.OutcomeTransient {
			return r, errAgentTransient
		}
		return r, nil
	}, func(attempt int, err error, wait time.Duration) {
		slog.WarnContext(ctx, "agent hit a transient failure, retrying", "attempt", attempt, "wait", wait)
		s.d.Events.Emit(ctx, sess, EventRetry, StateTransient, fmt.Sprintf("attempt %d failed, retrying in %s", attempt, wait))
		if s.d.Metrics != nil {
			s.d.Metrics.TransientRetries.Add(ctx, 1)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run agent: %w", ctx.Err())
		}
		if errors.Is(err, errAgentTransient) {
			return nil, domain.Errorf(domain.KindTransient, "run agent",
				"The agent kept failing with transient errors. The branch and its task marker are kept; re-run the same command to try again.",
				fmt.Errorf("gave up after %d attempts: %w", attempts, err))
		}
		return nil, domain.Errorf(domain.KindAgent, "run agent",
			"Check the agent command in the configuration (agent.command) and that it is installed.", err)
	}
	return res, nil
}

// pause persists the session for resumption and reports how long until the
// usage window reopens, if known.
func (s *Scheduler) pause(ctx context.Context, sess *session.Session, res *task.Result) (time.Duration, bool, error) {
	if res.SessionID != "" {
		sess.AgentSessionID = res.SessionID
	}
	if sess.ResumeToken == "" {
		sess.ResumeToken = uuid.NewString()
	}

	now := s.opts.Now()
	var wait time.Duration
	rt, err := ParseResetTime(res.ResetTime)
	known := err == nil
	if known {
		wait = CalculateWaitTime(rt, now)
		sess.ResetAt = now.Add(wait).UTC()
	} else {
		slog.WarnContext(ctx, "usage limit reached without a readable reset time", "reset_time", res.ResetTime)
		sess.ResetAt = time.Time{}
	}
	sess.UpdatedAt = now.UTC()

	if err := s.d.Store.Save(ctx, sess.ResumeToken, sess); err != nil {
		return 0, false, fmt.Errorf("save paused session: %w", err)
	}
	if s.d.Metrics != nil {
		s.d.Metrics.LimitPauses.Add(ctx, 1)
	}
	s.d.Events.Emit(ctx, sess, EventLimit, StateLimit, res.ResetTime)
	slog.InfoContext(ctx, "usage limit reached, session paused",
		"resume_token", sess.ResumeToken, "reset_at", sess.ResetAt, "agent_session_id", sess.AgentSessionID)
	return wait, known, nil
}

// succeed reverts the marker, pushes the result and marks a draft pull
// request ready.
func (s *Scheduler) succeed(ctx context.Context, sess *session.Session, cfg session.Config) error {
	h := sess.Repository
	if _, err := s.d.Markers.Revert(ctx, h.Dir, sess.Marker); err != nil {
		return err
	}
	sess.Marker = nil

	if clean, err := s.d.Git.IsClean(ctx, h.Dir); err == nil && !clean {
		slog.WarnContext(ctx, "agent left uncommitted changes in the working copy", "dir", h.Dir)
	}
	if err := s.pushBranch(ctx, sess, cfg); err != nil {
		return err
	}

	n := sess.PullNumber()
	if n == 0 || !s.opts.DraftPR {
		return nil
	}
	pr, err := s.d.Hosting.PullRequest(ctx, sess.Issue.Repo, n)
	if err != nil {
		return fmt.Errorf("read pull request #%d: %w", n, err)
	}
	if pr.Draft {
		if err := s.d.Hosting.MarkReady(ctx, sess.Issue.Repo, n); err != nil {
			return fmt.Errorf("mark pull request #%d ready: %w", n, err)
		}
		slog.InfoContext(ctx, "pull request marked ready for review", "pull", n)
	}
	return nil
}

// watch blocks until new feedback arrives or the pull request is merged.
func (s *Scheduler) watch(ctx context.Context, sess *session.Session, cfg session.Config) (*feedback.Snapshot, bool, error) {
	ctx, end := s.enter(ctx, sess, StateWatch)
	defer end()

	n := sess.PullNumber()
	if n == 0 {
		return nil, false, errors.New("watch: session has no pull request")
	}
	repo := sess.Issue.Repo

	target := &nudgeTarget{owner: repo.Owner, name: repo.Name, issue: sess.Issue.Number, pull: n}
	if sess.Issue.Kind == repository.KindPull && len(sess.LinkedIssues) > 0 {
		target.issue = sess.LinkedIssues[0]
	}
	s.watching.Store(target)
	defer s.watching.Store(nil)

	var nudges chan struct{}
	if s.d.Nudges != nil {
		nudges = make(chan struct{}, 1)
		subject := messagequeue.NudgeSubject(repo.Owner, repo.Name, n)
		cancel, err := s.d.Nudges.Subscribe(ctx, subject, func(_ context.Context, _ string, _ []byte) error {
			select {
			case nudges <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "nudge subscription failed, polling only", "subject", subject, "error", err)
		} else {
			defer cancel()
		}
	}

	ticker := time.NewTicker(cfg.WatchInterval)
	defer ticker.Stop()
	slog.InfoContext(ctx, "watching pull request for feedback", "pull", n, "interval", cfg.WatchInterval)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		case <-nudges:
			slog.DebugContext(ctx, "watch nudged", "pull", n, "via", "bus")
		case <-s.nudged:
			slog.DebugContext(ctx, "watch nudged", "pull", n, "via", "webhook")
		}

		pr, err := resilience.Call(s.d.Breaker, func() (*hosting.PullRequest, error) {
			return s.d.Hosting.PullRequest(ctx, repo, n)
		})
		if err != nil {
			if failErr := s.watchFailed(ctx, &failures, n, "pull request check", err); failErr != nil {
				return nil, false, failErr
			}
			continue
		}
		if pr.Merged {
			slog.InfoContext(ctx, "pull request merged, watch finished", "pull", n)
			return nil, true, nil
		}

		checkpoint := s.opts.Now().UTC()
		snap, err := s.d.Gate.Evaluate(ctx, sess, true)
		if err != nil {
			if failErr := s.watchFailed(ctx, &failures, n, "feedback check", err); failErr != nil {
				return nil, false, failErr
			}
			continue
		}
		failures = 0
		if snap.HasNew() {
			sess.Checkpoint = checkpoint
			s.d.Events.Emit(ctx, sess, EventFeedback, StateWatch,
				fmt.Sprintf("%d pull request and %d issue comments", snap.PRComments, snap.IssueComments))
			return snap, false, nil
		}
	}
}

// watchFailed counts a failed poll and returns an error once the limit of
// consecutive failures is reached.
func (s *Scheduler) watchFailed(ctx context.Context, failures *int, pull int, what string, err error) error {
	*failures++
	slog.WarnContext(ctx, "watch: "+what+" failed", "pull", pull, "failures", *failures, "error", err)
	if *failures < s.opts.WatchFailureLimit {
		return nil
	}
	return domain.Errorf(domain.KindTransient,
		fmt.Sprintf("watch pull request #%d", pull),
		"Check connectivity and gh authentication, then rerun the command to resume watching.",
		fmt.Errorf("%d consecutive failed polls: %w", *failures, err))
}

// finish classifies the termination, settles the resume token and applies
// the working-directory retention policy.
func (s *Scheduler) finish(ctx context.Context, sess *session.Session, cfg session.Config, runErr error) (*Outcome, error) {
	cleanup := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		sess.Termination = session.TerminationUserStop
		runErr = nil
		slog.InfoContext(cleanup, "session stopped by operator")
	default:
		sess.Termination = session.TerminationError
		s.d.Events.Emit(cleanup, sess, EventState, StateFatal, runErr.Error())
		slog.ErrorContext(cleanup, "session failed", "kind", domain.KindOf(runErr), "error", runErr)
		if sess.Marker != nil {
			slog.WarnContext(cleanup, "task marker commit left in place", "commit", sess.Marker.ID)
		}
	}

	switch sess.Termination {
	case session.TerminationSuccess, session.TerminationMerged, session.TerminationNoFeedback:
		if sess.ResumeToken != "" {
			if err := s.d.Store.Delete(cleanup, sess.ResumeToken); err != nil {
				slog.WarnContext(cleanup, "delete resume token", "error", err)
			}
			sess.ResumeToken = ""
			sess.ResetAt = time.Time{}
		}
	}

	var visibility repository.Visibility
	if sess.Repository != nil {
		visibility = sess.Repository.Visibility
	}
	keep := KeepWorkDir(RetentionInput{
		PendingToken:    sess.PendingResume(),
		ResumeRequested: cfg.ResumeToken != "",
		Override:        cfg.Retention,
		Visibility:      visibility,
	})
	if !keep {
		if err := removeWorkDir(cleanup, cfg.WorkRoot, sess.WorkDir); err != nil {
			slog.WarnContext(cleanup, "working directory not removed", "error", err)
			keep = true
		}
	} else {
		slog.InfoContext(cleanup, "working directory kept", "dir", sess.WorkDir)
	}

	if s.d.Metrics != nil {
		s.d.Metrics.SessionsFinished.Add(cleanup, 1, metric.WithAttributes(
			attribute.String("termination", string(sess.Termination)),
		))
	}
	s.d.Events.Emit(cleanup, sess, EventFinished, string(sess.Termination), "")
	slog.InfoContext(cleanup, "session finished", "termination", sess.Termination, "iterations", sess.Iteration)

	return &Outcome{
		Session:     sess,
		Termination: sess.Termination,
		ResumeToken: sess.ResumeToken,
		ResetAt:     sess.ResetAt,
		KeptWorkDir: keep,
	}, runErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
