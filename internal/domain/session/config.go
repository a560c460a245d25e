package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/repository"
)

// Retention is the working-directory retention policy requested by the operator.
type Retention string

const (
	RetentionAuto   Retention = "auto"
	RetentionKeep   Retention = "keep"
	RetentionDelete Retention = "delete"
)

// ParseRetention validates a retention flag value.
func ParseRetention(s string) (Retention, error) {
	switch r := Retention(s); r {
	case "", RetentionAuto:
		return RetentionAuto, nil
	case RetentionKeep, RetentionDelete:
		return r, nil
	default:
		return "", fmt.Errorf("unknown retention %q (want auto, keep or delete)", s)
	}
}

// Config is the immutable per-invocation configuration. It is built once
// from CLI flags and validated before any state is created.
type Config struct {
	Target repository.Reference

	Fork         bool
	AutoContinue bool
	// GateOnFeedback stops the scheduler when no new feedback exists.
	GateOnFeedback bool

	Watch         bool
	WatchInterval time.Duration

	AllowForcePushWithLease bool
	AllowMergedBranch       bool

	Retention Retention

	ResumeToken string
	AutoResume  bool

	// WorkRoot is the parent of per-session working directories.
	WorkRoot string
}

// Validate checks flag combinations. It is called once at startup.
func (c Config) Validate() error {
	var errs []error

	switch c.Target.Kind {
	case repository.KindIssue, repository.KindPull:
	case repository.KindRepository:
		if c.ResumeToken == "" {
			errs = append(errs, errors.New("a repository URL needs --resume; pass an issue or pull request URL instead"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported target kind %q", c.Target.Kind))
	}

	if c.Watch && c.WatchInterval <= 0 {
		errs = append(errs, errors.New("--watch-interval must be positive"))
	}
	if c.AutoContinue && c.Target.Kind == repository.KindPull {
		errs = append(errs, errors.New("--auto-continue applies to issue URLs only; a pull request URL already continues"))
	}
	if _, err := ParseRetention(string(c.Retention)); err != nil {
		errs = append(errs, err)
	}
	if c.WorkRoot == "" {
		errs = append(errs, errors.New("work root is required"))
	}

	return errors.Join(errs...)
}

// ContinueMode reports whether the invocation targets an existing PR.
func (c Config) ContinueMode() bool { return c.Target.Kind == repository.KindPull }
