// Package config provides hierarchical configuration loading for IssueForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the issueforge CLI.
type Config struct {
	Logging   Logging   `yaml:"logging"`
	Git       Git       `yaml:"git"`
	Hosting   Hosting   `yaml:"hosting"`
	Agent     Agent     `yaml:"agent"`
	Session   Session   `yaml:"session"`
	Retry     Retry     `yaml:"retry"`
	Breaker   Breaker   `yaml:"breaker"`
	Store     Store     `yaml:"store"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	Status    Status    `yaml:"status"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Format  string `yaml:"format"` // "json" | "text" | "auto" (text when stderr is a terminal)
	Async   bool   `yaml:"async"`
}

// Git holds version-control collaborator configuration.
type Git struct {
	Binary         string        `yaml:"binary"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	AuthorName     string        `yaml:"author_name"`
	AuthorEmail    string        `yaml:"author_email"`
}

// Hosting holds hosting-platform collaborator configuration.
type Hosting struct {
	Provider string `yaml:"provider"` // registered hosting.Platform name (default: "github")
	Binary   string `yaml:"binary"`   // CLI used by the provider (default: "gh")
}

// Agent holds coding agent collaborator configuration.
type Agent struct {
	Backend    string        `yaml:"backend"`     // registered agentbackend name (default: "command")
	Command    string        `yaml:"command"`     // executable to launch
	Args       []string      `yaml:"args"`        // fixed arguments before resume flags
	ResumeFlag string        `yaml:"resume_flag"` // flag followed by the agent session id
	Timeout    time.Duration `yaml:"timeout"`
	// GracePeriod is how long an interrupted agent may take to exit before it is killed.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Session holds scheduler defaults that operators may tune.
type Session struct {
	WorkRoot      string        `yaml:"work_root"`
	MarkerFile    string        `yaml:"marker_file"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	BranchPrefix  string        `yaml:"branch_prefix"`
	DraftPR       bool          `yaml:"draft_pr"`
}

// Retry holds the backoff policies for each call site.
type Retry struct {
	ForkVerify Backoff `yaml:"fork_verify"`
	Transient  Backoff `yaml:"transient"`
}

// Backoff is a bounded exponential backoff policy.
type Backoff struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"` // randomization factor in [0,1)
}

// Breaker holds circuit breaker configuration for hosting calls in watch mode.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Store selects where paused sessions are persisted.
type Store struct {
	Driver string `yaml:"driver"` // "file" | "postgres"
	Dir    string `yaml:"dir"`
}

// Postgres holds PostgreSQL connection configuration for the session store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds optional NATS JetStream configuration for session events.
// An empty URL disables event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Cache holds the in-process hosting metadata cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	TTL         time.Duration `yaml:"ttl"`
}

// Telemetry holds OpenTelemetry exporter configuration.
// An empty endpoint installs no-op providers.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Status holds the optional status HTTP server configuration.
// An empty Addr disables it.
type Status struct {
	Addr           string   `yaml:"addr"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Logging: Logging{
			Level:   "info",
			Service: "issueforge",
			Format:  "auto",
		},
		Git: Git{
			Binary:         "git",
			MaxConcurrent:  4,
			CommandTimeout: 10 * time.Minute,
		},
		Hosting: Hosting{
			Provider: "github",
			Binary:   "gh",
		},
		Agent: Agent{
			Backend:     "command",
			Command:     "claude",
			Args:        []string{"-p", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
			ResumeFlag:  "--resume",
			Timeout:     4 * time.Hour,
			GracePeriod: 30 * time.Second,
		},
		Session: Session{
			WorkRoot:      defaultWorkRoot(),
			MarkerFile:    "AGENTS.md",
			WatchInterval: time.Minute,
			BranchPrefix:  "issue",
			DraftPR:       true,
		},
		Retry: Retry{
			ForkVerify: Backoff{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Jitter: 0.1},
			Transient:  Backoff{MaxAttempts: 3, BaseDelay: 2 * time.Minute, MaxDelay: 30 * time.Minute, Jitter: 0.2},
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     2 * time.Minute,
		},
		Store: Store{
			Driver: "file",
			Dir:    defaultStoreDir(),
		},
		Postgres: Postgres{
			MaxConns:        4,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 8,
			TTL:         5 * time.Minute,
		},
	}
}
