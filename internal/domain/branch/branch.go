// Package branch defines the working branch and its lifecycle state.
package branch

// State is the lifecycle state of a working branch.
type State string

const (
	// StateFresh is a newly created branch with no commits of its own.
	StateFresh State = "fresh"
	// StateContinued has commits ahead of the base branch.
	StateContinued State = "continued"
	// StateMerged has no commits ahead of the base branch. Terminal: a new
	// marker commit would resurrect a closed line of work.
	StateMerged State = "merged"
)

// Ref is a branch name plus its lifecycle state.
type Ref struct {
	Name  string `json:"name" yaml:"name"`
	State State  `json:"state" yaml:"state"`
	// Ahead is the number of commits ahead of the base ref when the branch was prepared.
	Ahead int `json:"ahead" yaml:"ahead"`
	// PullRequest is the number of the pull request built from this branch, if any.
	PullRequest int `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
}

// Writable reports whether a new marker commit may be placed on the branch.
func (r *Ref) Writable() bool { return r.State != StateMerged }
