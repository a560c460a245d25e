package main

// Adapter blank imports. Each import registers a hosting platform or agent
// backend by name.

import (
	_ "github.com/Strob0t/IssueForge/internal/adapter/command"
	_ "github.com/Strob0t/IssueForge/internal/adapter/github"
)
