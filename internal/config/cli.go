package config

import "fmt"

// Overrides carries values set explicitly on the command line. Nil fields
// leave the loaded configuration untouched.
type Overrides struct {
	LogLevel   *string
	StatusAddr *string
	WorkRoot   *string
	MarkerFile *string
}

// LoadWithOverrides loads configuration with the full hierarchy:
// defaults < YAML < ENV < CLI.
func LoadWithOverrides(yamlPath string, o Overrides) (*Config, error) {
	if yamlPath == "" {
		yamlPath = DefaultConfigFile
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays non-nil CLI values onto cfg.
func applyCLI(cfg *Config, o Overrides) {
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.StatusAddr != nil {
		cfg.Status.Addr = *o.StatusAddr
	}
	if o.WorkRoot != nil {
		cfg.Session.WorkRoot = *o.WorkRoot
	}
	if o.MarkerFile != nil {
		cfg.Session.MarkerFile = *o.MarkerFile
	}
}
