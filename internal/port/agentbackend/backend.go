// Package agentbackend defines the coding agent port (interface).
package agentbackend

import (
	"context"
	"io"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/task"
)

// Backend is the port interface for a coding agent.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "command").
	Name() string

	// Execute runs one agent session for t and classifies how it ended.
	// An error is returned only when the agent could not be run at all;
	// agent-reported failures come back as a Result with OutcomeError.
	// Cancelling ctx interrupts the agent.
	Execute(ctx context.Context, t *task.Task) (*task.Result, error)
}

// Config carries backend settings resolved from the runtime configuration.
type Config struct {
	Command    string
	Args       []string
	ResumeFlag string
	Timeout    time.Duration
	// GracePeriod is how long an interrupted agent may take to exit.
	GracePeriod time.Duration
	// Output receives the agent's combined output as it is produced. Nil discards it.
	Output io.Writer
}
