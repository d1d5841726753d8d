package config

import "time"

// DefaultPath is where init writes the configuration.
const DefaultPath = ".issuesync.yml"

// Supported provider keys.
const (
	ProviderVSTS   = "vsts"
	ProviderGitHub = "github"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "data/issuesync.db",
		LogLevel:     "info",
		Server: ServerConfig{
			Port: 8080,
		},
		Queue: QueueConfig{
			Workers:     4,
			Buffer:      256,
			TaskTimeout: 60 * time.Second,
		},
		Features: map[string][]string{
			"integrations-issue-sync": {"*"},
		},
		Subscriptions: SubscriptionsConfig{
			CheckInterval: 6 * time.Hour,
			Schedule:      "@every 1h",
			TouchHealthy:  false,
			Providers:     []string{ProviderVSTS},
		},
		Providers: ProvidersConfig{
			VSTS: VSTSConfig{
				APIVersion:        "4.1",
				RequestsPerMinute: 300,
			},
			GitHub: GitHubConfig{
				BaseURL:           "https://api.github.com",
				RequestsPerMinute: 60,
			},
		},
	}
}
