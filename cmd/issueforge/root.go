package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/IssueForge/internal/config"
	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
	"github.com/Strob0t/IssueForge/internal/domain/session"
)

// flags holds the command-line options of one invocation.
type flags struct {
	fork              bool
	autoContinue      bool
	onlyOnNewFeedback bool
	watch             bool
	watchInterval     time.Duration
	allowLease        bool
	allowMerged       bool
	retention         string
	resume            string
	autoResume        bool

	configPath string
	logLevel   string
	statusAddr string
	workRoot   string
	markerFile string
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "issueforge <issue-or-pull-request-url>",
		Short: "Drive a coding agent from an issue to a merged change",
		Long: `issueforge clones the repository of an issue or pull request, prepares a
working branch, hands the task to a coding agent and pushes the result.

A usage-limit pause prints a resume token. Pass it back with --resume.`,
		Args:          cobra.ExactArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			sc, err := sessionConfig(args[0], &f, cfg)
			if err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			code := run(cmd.Context(), cfg, sc, stdout, stderr)
			if code != exitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.BoolVar(&f.fork, "fork", false, "work through a fork owned by the acting identity")
	fl.BoolVar(&f.autoContinue, "auto-continue", false, "continue an open pull request for the issue instead of creating a new branch")
	fl.BoolVar(&f.onlyOnNewFeedback, "only-on-new-feedback", false, "stop without running the agent when no new feedback exists")
	fl.BoolVar(&f.watch, "watch", false, "after success, wait for feedback and iterate until the pull request is merged")
	fl.DurationVar(&f.watchInterval, "watch-interval", 0, "poll interval in watch mode (default from config)")
	fl.BoolVar(&f.allowLease, "allow-force-push-with-lease", false, "resolve a divergent push with a lease-protected force push")
	fl.BoolVar(&f.allowMerged, "allow-merged-branch", false, "write the task marker even on a branch with no commits ahead of base")
	fl.StringVar(&f.retention, "workdir-retention", string(session.RetentionAuto), "working directory retention: auto, keep or delete")
	fl.StringVar(&f.resume, "resume", "", "resume a session paused on a usage limit")
	fl.BoolVar(&f.autoResume, "auto-resume", false, "sleep until the usage limit resets and continue automatically")

	fl.StringVar(&f.configPath, "config", "", "path to the YAML config file (default "+config.DefaultConfigFile+")")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fl.StringVar(&f.statusAddr, "status-addr", "", "serve session status on this address, e.g. 127.0.0.1:8080")
	fl.StringVar(&f.workRoot, "work-root", "", "parent directory for working copies")
	fl.StringVar(&f.markerFile, "marker-file", "", "repository file used for task details")

	return cmd
}

func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	var o config.Overrides
	changed := cmd.Flags().Changed
	if changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if changed("status-addr") {
		o.StatusAddr = &f.statusAddr
	}
	if changed("work-root") {
		o.WorkRoot = &f.workRoot
	}
	if changed("marker-file") {
		o.MarkerFile = &f.markerFile
	}
	return config.LoadWithOverrides(f.configPath, o)
}

// sessionConfig builds and validates the immutable per-invocation config.
func sessionConfig(rawURL string, f *flags, cfg *config.Config) (session.Config, error) {
	target, err := repository.ParseReference(rawURL)
	if err != nil {
		return session.Config{}, domain.Errorf(domain.KindValidation, "parse "+rawURL,
			"Pass an issue or pull request URL such as https://github.com/owner/repo/issues/1.", err)
	}
	retention, err := session.ParseRetention(f.retention)
	if err != nil {
		return session.Config{}, domain.Errorf(domain.KindValidation, "parse --workdir-retention", "", err)
	}

	interval := f.watchInterval
	if interval == 0 {
		interval = cfg.Session.WatchInterval
	}

	sc := session.Config{
		Target:                  target,
		Fork:                    f.fork,
		AutoContinue:            f.autoContinue,
		GateOnFeedback:          f.onlyOnNewFeedback,
		Watch:                   f.watch,
		WatchInterval:           interval,
		AllowForcePushWithLease: f.allowLease,
		AllowMergedBranch:       f.allowMerged,
		Retention:               retention,
		ResumeToken:             f.resume,
		AutoResume:              f.autoResume,
		WorkRoot:                cfg.Session.WorkRoot,
	}
	if err := sc.Validate(); err != nil {
		return session.Config{}, domain.Errorf(domain.KindValidation, "check flags", "", err)
	}
	return sc, nil
}

// execute runs the root command and maps its result to an exit code.
func execute(ctx context.Context, args []string) int {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			reportError(os.Stderr, ee.err)
		}
		return ee.code
	}
	// Argument and flag parsing errors.
	fmt.Fprintf(os.Stderr, "Error: %v\nRun 'issueforge --help' for usage.\n", err)
	return exitFatal
}

func reportError(w io.Writer, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		fmt.Fprintf(w, "Error: %s\n", de.Report())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
