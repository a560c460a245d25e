// Package task defines the unit of work handed to the coding agent.
package task

import "time"

// Directive tells the agent whether it starts or resumes work.
type Directive string

const (
	DirectiveProceed  Directive = "proceed"
	DirectiveContinue Directive = "continue"
)

// Outcome is the agent's termination classification.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeLimit     Outcome = "limit"
	OutcomeTransient Outcome = "transient"
	OutcomeError     Outcome = "error"
)

// Task is one agent invocation.
type Task struct {
	ID            string    `json:"id"`
	IssueURL      string    `json:"issue_url"`
	PullURL       string    `json:"pull_url,omitempty"`
	Branch        string    `json:"branch"`
	WorkDir       string    `json:"work_dir"`
	ForkFullName  string    `json:"fork_full_name,omitempty"`
	FeedbackLines []string  `json:"feedback_lines,omitempty"`
	Directive     Directive `json:"directive"`
	// ResumeSessionID continues a prior agent conversation when set.
	ResumeSessionID string `json:"resume_session_id,omitempty"`
	Prompt          string `json:"prompt"`
}

// Result holds the output of a finished agent invocation.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// ResetTime is the human-readable reset time reported on OutcomeLimit.
	ResetTime string        `json:"reset_time,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
}
