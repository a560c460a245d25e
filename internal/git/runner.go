package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result is the observable outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandError is returned when git exits non-zero or cannot be started.
type CommandError struct {
	Args   []string
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	sub := ""
	if len(e.Args) > 0 {
		sub = e.Args[0]
	}
	stderr := strings.TrimSpace(e.Result.Stderr)
	if stderr == "" {
		return fmt.Sprintf("git %s: %v", sub, e.Err)
	}
	return fmt.Sprintf("git %s: %s: %v", sub, stderr, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Stderr returns the stderr of a failed git command in err's chain.
func Stderr(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Result.Stderr
	}
	return ""
}

// Runner invokes the git binary.
type Runner struct {
	binary  string
	pool    *Pool
	timeout time.Duration
	env     []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds each command. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithAuthor sets the author and committer identity used for commits.
func WithAuthor(name, email string) Option {
	return func(r *Runner) {
		if name != "" {
			r.env = append(r.env, "GIT_AUTHOR_NAME="+name, "GIT_COMMITTER_NAME="+name)
		}
		if email != "" {
			r.env = append(r.env, "GIT_AUTHOR_EMAIL="+email, "GIT_COMMITTER_EMAIL="+email)
		}
	}
}

// NewRunner creates a Runner for the given git binary.
func NewRunner(binary string, pool *Pool, opts ...Option) *Runner {
	if binary == "" {
		binary = "git"
	}
	r := &Runner{
		binary: binary,
		pool:   pool,
		env:    []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes git with args in dir.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	return r.run(ctx, dir, "", args)
}

// RunInput executes git with args in dir, feeding stdin.
func (r *Runner) RunInput(ctx context.Context, dir, stdin string, args ...string) (Result, error) {
	return r.run(ctx, dir, stdin, args)
}

// Output executes git and returns trimmed stdout.
func (r *Runner) Output(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := r.Run(ctx, dir, args...)
	return strings.TrimSpace(res.Stdout), err
}

// run refuses to start new commands after ctx is cancelled but never kills
// a started command on cancellation: an interrupted write could leave a
// corrupt index behind.
func (r *Runner) run(ctx context.Context, dir, stdin string, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	return withSlot(ctx, r.pool, func() (Result, error) {
		runCtx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(runCtx, r.binary, args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), r.env...)
		if stdin != "" {
			cmd.Stdin = strings.NewReader(stdin)
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		if err != nil {
			return res, &CommandError{Args: args, Result: res, Err: err}
		}
		return res, nil
	})
}
