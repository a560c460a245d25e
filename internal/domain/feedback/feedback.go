// Package feedback defines the snapshot produced by the feedback gate.
package feedback

import (
	"fmt"
	"time"
)

// Snapshot counts new comments since a checkpoint. It lives for a single
// scheduler iteration and is never persisted.
type Snapshot struct {
	Since          time.Time `json:"since"`
	PRComments     int       `json:"pr_comments"`
	IssueComments  int       `json:"issue_comments"`
	ShouldContinue bool      `json:"should_continue"`
	// Gated is true when continuation depends on the counts.
	Gated bool `json:"gated"`
}

// HasNew reports whether any new comment was found.
func (s *Snapshot) HasNew() bool { return s.PRComments > 0 || s.IssueComments > 0 }

// Lines renders the counts for the agent task description. Both counts are
// always present, including zero.
func (s *Snapshot) Lines() []string {
	return []string{
		fmt.Sprintf("New comments on the pull request: %d", s.PRComments),
		fmt.Sprintf("New comments on the issue: %d", s.IssueComments),
	}
}
