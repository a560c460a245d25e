package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "issueforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Logging.Level, "ISSUEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ISSUEFORGE_LOG_SERVICE")
	setString(&cfg.Logging.Format, "ISSUEFORGE_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "ISSUEFORGE_LOG_ASYNC")

	setString(&cfg.Git.Binary, "ISSUEFORGE_GIT_BINARY")
	setInt(&cfg.Git.MaxConcurrent, "ISSUEFORGE_GIT_MAX_CONCURRENT")
	setDuration(&cfg.Git.CommandTimeout, "ISSUEFORGE_GIT_TIMEOUT")
	setString(&cfg.Git.AuthorName, "ISSUEFORGE_GIT_AUTHOR_NAME")
	setString(&cfg.Git.AuthorEmail, "ISSUEFORGE_GIT_AUTHOR_EMAIL")

	setString(&cfg.Hosting.Provider, "ISSUEFORGE_HOSTING_PROVIDER")
	setString(&cfg.Hosting.Binary, "ISSUEFORGE_HOSTING_BINARY")

	setString(&cfg.Agent.Backend, "ISSUEFORGE_AGENT_BACKEND")
	setString(&cfg.Agent.Command, "ISSUEFORGE_AGENT_COMMAND")
	setFields(&cfg.Agent.Args, "ISSUEFORGE_AGENT_ARGS")
	setString(&cfg.Agent.ResumeFlag, "ISSUEFORGE_AGENT_RESUME_FLAG")
	setDuration(&cfg.Agent.Timeout, "ISSUEFORGE_AGENT_TIMEOUT")
	setDuration(&cfg.Agent.GracePeriod, "ISSUEFORGE_AGENT_GRACE_PERIOD")

	setString(&cfg.Session.WorkRoot, "ISSUEFORGE_WORK_ROOT")
	setString(&cfg.Session.MarkerFile, "ISSUEFORGE_MARKER_FILE")
	setDuration(&cfg.Session.WatchInterval, "ISSUEFORGE_WATCH_INTERVAL")
	setString(&cfg.Session.BranchPrefix, "ISSUEFORGE_BRANCH_PREFIX")
	setBool(&cfg.Session.DraftPR, "ISSUEFORGE_DRAFT_PR")

	// Retry
	setInt(&cfg.Retry.ForkVerify.MaxAttempts, "ISSUEFORGE_FORK_VERIFY_ATTEMPTS")
	setDuration(&cfg.Retry.ForkVerify.BaseDelay, "ISSUEFORGE_FORK_VERIFY_DELAY")
	setInt(&cfg.Retry.Transient.MaxAttempts, "ISSUEFORGE_TRANSIENT_ATTEMPTS")
	setDuration(&cfg.Retry.Transient.BaseDelay, "ISSUEFORGE_TRANSIENT_DELAY")

	setInt(&cfg.Breaker.MaxFailures, "ISSUEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ISSUEFORGE_BREAKER_TIMEOUT")

	// Persistence
	setString(&cfg.Store.Driver, "ISSUEFORGE_STORE_DRIVER")
	setString(&cfg.Store.Dir, "ISSUEFORGE_STORE_DIR")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ISSUEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ISSUEFORGE_PG_MIN_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setInt64(&cfg.Cache.L1MaxSizeMB, "ISSUEFORGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "ISSUEFORGE_CACHE_TTL")

	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	setString(&cfg.Status.Addr, "ISSUEFORGE_STATUS_ADDR")
	setString(&cfg.Status.WebhookSecret, "ISSUEFORGE_WEBHOOK_SECRET")
	setFields(&cfg.Status.AllowedOrigins, "ISSUEFORGE_ALLOWED_ORIGINS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Git.Binary == "" {
		return errors.New("git.binary is required")
	}
	if cfg.Git.MaxConcurrent < 1 {
		return errors.New("git.max_concurrent must be >= 1")
	}
	if cfg.Agent.Command == "" {
		return errors.New("agent.command is required")
	}
	if cfg.Session.MarkerFile == "" {
		return errors.New("session.marker_file is required")
	}
	if strings.Contains(cfg.Session.MarkerFile, "..") {
		return errors.New("session.marker_file must stay inside the repository")
	}
	if cfg.Retry.ForkVerify.MaxAttempts < 1 {
		return errors.New("retry.fork_verify.max_attempts must be >= 1")
	}
	if cfg.Retry.Transient.MaxAttempts < 1 {
		return errors.New("retry.transient.max_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	switch cfg.Store.Driver {
	case "file":
		if cfg.Store.Dir == "" {
			return errors.New("store.dir is required for the file driver")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of file, postgres", cfg.Store.Driver)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFields(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Fields(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
