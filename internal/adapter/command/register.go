package command

import "github.com/Strob0t/IssueForge/internal/port/agentbackend"

func init() {
	agentbackend.Register(backendName, func(cfg agentbackend.Config) (agentbackend.Backend, error) {
		return New(cfg)
	})
}
