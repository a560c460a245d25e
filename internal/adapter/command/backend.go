// Package command implements agentbackend.Backend by running a coding agent
// CLI as a subprocess, one process per session.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/task"
	"github.com/Strob0t/IssueForge/internal/port/agentbackend"
)

const backendName = "command"

// maxLineBytes bounds a single output line; stream-json events can be large.
const maxLineBytes = 4 << 20

// tailBytes is how much trailing output is kept on the result.
const tailBytes = 16 << 10

var _ agentbackend.Backend = (*Backend)(nil)

// Backend runs the configured executable with the task prompt on stdin.
type Backend struct {
	cfg agentbackend.Config
}

// New creates a command backend.
func New(cfg agentbackend.Config) (*Backend, error) {
	if cfg.Command == "" {
		return nil, errors.New("command backend: command is required")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	return &Backend{cfg: cfg}, nil
}

func (b *Backend) Name() string { return backendName }

// Args returns the argument list for t.
func (b *Backend) Args(t *task.Task) []string {
	args := append([]string(nil), b.cfg.Args...)
	if t.ResumeSessionID != "" && b.cfg.ResumeFlag != "" {
		args = append(args, b.cfg.ResumeFlag, t.ResumeSessionID)
	}
	return args
}

// Execute runs the agent to completion. Cancelling ctx sends SIGINT and
// kills the process if it has not exited after the grace period.
func (b *Backend) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	runCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, b.cfg.Command, b.Args(t)...)
	cmd.Dir = t.WorkDir
	cmd.Stdin = strings.NewReader(t.Prompt)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = b.cfg.GracePeriod

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	scan := newScanner(b.cfg.Output)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scan.consume(pr)
	}()

	start := time.Now()
	slog.InfoContext(ctx, "agent started", "command", b.cfg.Command, "dir", t.WorkDir,
		"directive", t.Directive, "resume", t.ResumeSessionID != "")

	runErr := cmd.Start()
	if runErr == nil {
		runErr = cmd.Wait()
	}
	_ = pw.Close()
	wg.Wait()

	if cmd.Process == nil {
		return nil, fmt.Errorf("start agent %s: %w", b.cfg.Command, runErr)
	}

	res := &task.Result{
		SessionID: scan.sessionID,
		Output:    scan.tail(),
		ExitCode:  cmd.ProcessState.ExitCode(),
		Duration:  time.Since(start),
	}
	classify(res, scan, runErr)

	slog.InfoContext(ctx, "agent finished", "outcome", res.Outcome, "exit_code", res.ExitCode,
		"duration", res.Duration.Round(time.Second), "session_id", res.SessionID)

	if ctx.Err() != nil {
		return res, fmt.Errorf("agent interrupted: %w", ctx.Err())
	}
	return res, nil
}

// limitWindow is how close to the end of output a limit report must be for a
// successful exit to still count as a limit pause.
const limitWindow = 5

func classify(res *task.Result, scan *scanner, runErr error) {
	limited := scan.limitLine > 0 && (runErr != nil || scan.lines-scan.limitLine < limitWindow)
	switch {
	case limited:
		res.Outcome = task.OutcomeLimit
		res.ResetTime = scan.resetTime
	case runErr == nil:
		res.Outcome = task.OutcomeSuccess
	case scan.transientSeen:
		res.Outcome = task.OutcomeTransient
		res.Error = runErr.Error()
	default:
		res.Outcome = task.OutcomeError
		res.Error = runErr.Error()
	}
}

// scanner reads agent output line by line, forwarding it and recording the
// signals used for classification.
type scanner struct {
	out io.Writer

	mu  sync.Mutex
	buf []byte

	lines         int
	sessionID     string
	limitLine     int // 1-based line of the last limit report, 0 if none
	resetTime     string
	transientSeen bool
}

func newScanner(out io.Writer) *scanner {
	if out == nil {
		out = io.Discard
	}
	return &scanner{out: out}
}

func (s *scanner) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	for sc.Scan() {
		s.line(sc.Text())
	}
	if err := sc.Err(); err != nil {
		slog.Warn("agent output scan stopped", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *scanner) line(l string) {
	_, _ = io.WriteString(s.out, l+"\n")
	s.keep(l)

	if id := sessionIDFromLine(l); id != "" {
		s.sessionID = id
	}
	s.lines++
	if reset, ok := detectLimit(l); ok {
		s.limitLine = s.lines
		if reset != "" {
			s.resetTime = reset
		}
	}
	if isTransient(l) {
		s.transientSeen = true
	}
}

func (s *scanner) keep(l string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, l...)
	s.buf = append(s.buf, '\n')
	if len(s.buf) > 2*tailBytes {
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-tailBytes:]...)
	}
}

func (s *scanner) tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buf
	if len(b) > tailBytes {
		b = b[len(b)-tailBytes:]
	}
	return string(b)
}
