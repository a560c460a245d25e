package service

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Strob0t/IssueForge/internal/domain/marker"
	"github.com/Strob0t/IssueForge/internal/domain/task"
)

var markerTemplate = template.Must(template.New("marker").Parse(`Issue to solve: {{.IssueURL}}
{{- if .PullURL}}
Pull request: {{.PullURL}}
{{- end}}
Branch: {{.Branch}}
Working directory: {{.WorkDir}}
{{- if .ForkFullName}}
Your forked repository: {{.ForkFullName}}
{{- end}}
{{- range .FeedbackLines}}
{{.}}
{{- end}}

Proceed.
`))

var promptTemplate = template.Must(template.New("prompt").Parse(`Issue to solve: {{.IssueURL}}
{{- if .PullURL}}
Your prepared pull request: {{.PullURL}}
{{- end}}
Your prepared branch: {{.Branch}}
Your prepared working directory: {{.WorkDir}}
{{- if .ForkFullName}}
Your forked repository: {{.ForkFullName}}
{{- end}}
{{- if .FeedbackLines}}

Feedback since the last session:
{{- range .FeedbackLines}}
- {{.}}
{{- end}}
{{- end}}

{{if eq .Directive "continue"}}Continue.{{else}}Proceed.{{end}}
`))

// renderMarker renders the task description committed to the marker file.
func renderMarker(p marker.Params) (string, error) {
	p.FeedbackLines = sanitizeLines(p.FeedbackLines)
	var buf bytes.Buffer
	if err := markerTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render marker: %w", err)
	}
	return buf.String(), nil
}

// renderPrompt renders the task description handed to the agent.
func renderPrompt(t *task.Task) (string, error) {
	view := *t
	view.FeedbackLines = sanitizeLines(t.FeedbackLines)
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, &view); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func markerSubject(p marker.Params) string {
	return "Add task details for " + p.IssueURL
}

func sanitizeLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = sanitizePromptInput(l)
	}
	return out
}
