package github

import "github.com/Strob0t/IssueForge/internal/port/hosting"

func init() {
	hosting.Register(providerName, func(cfg hosting.Config) (hosting.Platform, error) {
		return newProvider(cfg.Binary), nil
	})
}
