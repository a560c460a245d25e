// Package session defines a single orchestration attempt and its immutable configuration.
package session

import (
	"time"

	"github.com/Strob0t/IssueForge/internal/domain/branch"
	"github.com/Strob0t/IssueForge/internal/domain/marker"
	"github.com/Strob0t/IssueForge/internal/domain/repository"
)

// Termination is the reason a session stopped.
type Termination string

const (
	TerminationNone       Termination = ""
	TerminationSuccess    Termination = "success"
	TerminationLimit      Termination = "limit"
	TerminationError      Termination = "error"
	TerminationUserStop   Termination = "user-stop"
	TerminationNoFeedback Termination = "no-feedback"
	TerminationMerged     Termination = "merged"
)

// Session is one execution attempt against one issue or pull request.
// The scheduler passes it explicitly to every component.
type Session struct {
	ID string `json:"id" yaml:"id"`
	// Issue is the tracked work item. Pull is set when a PR exists.
	Issue repository.Reference  `json:"issue" yaml:"issue"`
	Pull  *repository.Reference `json:"pull,omitempty" yaml:"pull,omitempty"`
	// LinkedIssues are the issues a pull request target closes.
	LinkedIssues []int `json:"linked_issues,omitempty" yaml:"linked_issues,omitempty"`

	WorkDir    string             `json:"work_dir" yaml:"work_dir"`
	Repository *repository.Handle `json:"repository,omitempty" yaml:"repository,omitempty"`
	Branch     *branch.Ref        `json:"branch,omitempty" yaml:"branch,omitempty"`

	// ResumeToken is set while the session is paused on a usage limit.
	ResumeToken string `json:"resume_token,omitempty" yaml:"resume_token,omitempty"`
	// AgentSessionID lets the agent continue its prior conversation.
	AgentSessionID string `json:"agent_session_id,omitempty" yaml:"agent_session_id,omitempty"`
	// ResetAt is the instant the agent's usage window reopens.
	ResetAt time.Time `json:"reset_at,omitzero" yaml:"reset_at,omitempty"`

	// Marker is the unreverted marker commit, if any.
	Marker *marker.Commit `json:"marker,omitempty" yaml:"marker,omitempty"`

	Iteration   int         `json:"iteration" yaml:"iteration"`
	Termination Termination `json:"termination,omitempty" yaml:"termination,omitempty"`
	// Checkpoint is the instant feedback is counted from.
	Checkpoint time.Time `json:"checkpoint,omitzero" yaml:"checkpoint,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// PendingResume reports whether the session may still be re-entered.
func (s *Session) PendingResume() bool { return s.ResumeToken != "" }

// IssueNumbers returns the issues whose comments count as feedback.
func (s *Session) IssueNumbers() []int {
	if s.Issue.Kind == repository.KindIssue {
		return []int{s.Issue.Number}
	}
	return s.LinkedIssues
}

// PullNumber returns the associated PR number, or 0.
func (s *Session) PullNumber() int {
	if s.Pull != nil {
		return s.Pull.Number
	}
	if s.Branch != nil {
		return s.Branch.PullRequest
	}
	return 0
}
