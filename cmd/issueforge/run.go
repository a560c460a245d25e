package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	ifotel "github.com/Strob0t/IssueForge/internal/adapter/otel"
	"github.com/Strob0t/IssueForge/internal/config"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/logger"
	"github.com/Strob0t/IssueForge/internal/service"
)

// run wires the collaborators, drives one session and reports its outcome.
func run(ctx context.Context, cfg *config.Config, sc session.Config, stdout, stderr io.Writer) int {
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	shutdown, err := ifotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service, version)
	if err != nil {
		reportError(stderr, fmt.Errorf("telemetry: %w", err))
		return exitFatal
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	a, err := wire(ctx, cfg, sc, stderr)
	if err != nil {
		reportError(stderr, err)
		return exitFatal
	}
	defer a.Close()

	var (
		out    *service.Outcome
		runErr error
	)
	serverCtx, stopServer := context.WithCancel(ctx)
	g := new(errgroup.Group)
	if a.status != nil {
		g.Go(func() error {
			if err := a.status.Serve(serverCtx); err != nil {
				slog.Error("status server stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopServer()
		out, runErr = a.scheduler.Run(ctx, sc)
		return nil
	})
	_ = g.Wait()

	if runErr != nil {
		reportError(stderr, runErr)
		return exitFatal
	}
	return report(stdout, sc, out)
}

// report prints the final outcome and returns the exit code.
func report(w io.Writer, sc session.Config, out *service.Outcome) int {
	sess := out.Session
	switch out.Termination {
	case session.TerminationLimit:
		fmt.Fprintf(w, "Agent usage limit reached.\n")
		if !out.ResetAt.IsZero() {
			fmt.Fprintf(w, "Limit resets at %s.\n", out.ResetAt.Local().Format(time.RFC1123))
		}
		fmt.Fprintf(w, "Resume with:\n\n  issueforge %s --resume %s\n", sc.Target.String(), out.ResumeToken)
	case session.TerminationUserStop:
		fmt.Fprintf(w, "Stopped.\n")
		printWorkDir(w, out)
		return exitUserStop
	case session.TerminationNoFeedback:
		fmt.Fprintf(w, "No new feedback on %s; nothing to do.\n", sess.Issue.String())
	case session.TerminationMerged:
		fmt.Fprintf(w, "Pull request #%d merged.\n", sess.PullNumber())
	default:
		fmt.Fprintf(w, "Done: %s", sess.Issue.String())
		if sess.Branch != nil {
			fmt.Fprintf(w, " on branch %s", sess.Branch.Name)
		}
		if n := sess.PullNumber(); n > 0 {
			fmt.Fprintf(w, " (pull request #%d)", n)
		}
		fmt.Fprintln(w)
	}
	printWorkDir(w, out)
	return exitOK
}

func printWorkDir(w io.Writer, out *service.Outcome) {
	if out.KeptWorkDir && out.Session.WorkDir != "" {
		fmt.Fprintf(w, "Working directory: %s\n", out.Session.WorkDir)
	}
}
