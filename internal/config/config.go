package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ISSUESYNC_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (ISSUESYNC_*). A double underscore
// separates nesting levels: ISSUESYNC_PROVIDERS__VSTS__TOKEN sets
// providers.vsts.token.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	ProviderVSTS:   true,
	ProviderGitHub: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must be non-negative")
	}
	if c.Queue.Buffer < 0 {
		return fmt.Errorf("queue.buffer must be non-negative")
	}
	if c.Queue.TaskTimeout < 0 {
		return fmt.Errorf("queue.task_timeout must be non-negative")
	}

	if c.Subscriptions.CheckInterval < 0 {
		return fmt.Errorf("subscriptions.check_interval must be non-negative")
	}
	if len(c.Subscriptions.Providers) > 0 && c.Subscriptions.Schedule == "" {
		return fmt.Errorf("subscriptions.schedule is required when providers are monitored")
	}
	for _, p := range c.Subscriptions.Providers {
		if !validProviders[p] {
			return fmt.Errorf("invalid subscriptions provider %q: must be one of vsts, github", p)
		}
	}

	for flag, patterns := range c.Features {
		if flag == "" {
			return fmt.Errorf("feature flag name is required")
		}
		if len(patterns) == 0 {
			return fmt.Errorf("feature %q has no organization patterns", flag)
		}
	}

	if c.Providers.VSTS.RequestsPerMinute < 0 || c.Providers.GitHub.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be non-negative")
	}

	return nil
}

// TokenEnvVar returns the environment variable that overrides the token of
// the given provider.
func TokenEnvVar(provider string) string {
	switch provider {
	case ProviderVSTS, ProviderGitHub:
		return EnvPrefix + "PROVIDERS__" + strings.ToUpper(provider) + "__TOKEN"
	default:
		return ""
	}
}
