// Package marker defines the task marker commit.
package marker

// Commit records a single marker commit and the exact restore target of the
// marker file. At most one unreverted Commit exists per session.
type Commit struct {
	ID   string `json:"id" yaml:"id"`
	File string `json:"file" yaml:"file"`
	// Subject is the commit subject, reused for the revert message.
	Subject string `json:"subject" yaml:"subject"`
	// HadPriorContent is false when the file did not exist before the commit.
	HadPriorContent bool `json:"had_prior_content" yaml:"had_prior_content"`
	// PriorContent is the byte-exact file content before the commit.
	PriorContent string `json:"prior_content,omitempty" yaml:"prior_content,omitempty"`
}

// Params are the session parameters rendered into the marker file.
type Params struct {
	IssueURL      string
	PullURL       string
	Branch        string
	WorkDir       string
	ForkFullName  string
	FeedbackLines []string
}
