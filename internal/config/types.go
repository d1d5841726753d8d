package config

import "time"

// Config is the top-level issuesync configuration, corresponding to
// .issuesync.yml.
type Config struct {
	DatabasePath  string              `yaml:"database_path" koanf:"database_path"`
	LogLevel      string              `yaml:"log_level" koanf:"log_level"`
	Server        ServerConfig        `yaml:"server" koanf:"server"`
	Queue         QueueConfig         `yaml:"queue" koanf:"queue"`
	Features      map[string][]string `yaml:"features" koanf:"features"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions" koanf:"subscriptions"`
	Providers     ProvidersConfig     `yaml:"providers" koanf:"providers"`
}

// ServerConfig holds admin API settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// QueueConfig sizes the task queue.
type QueueConfig struct {
	Workers     int           `yaml:"workers" koanf:"workers"`
	Buffer      int           `yaml:"buffer" koanf:"buffer"`
	TaskTimeout time.Duration `yaml:"task_timeout" koanf:"task_timeout"`
}

// SubscriptionsConfig controls the webhook subscription monitor.
type SubscriptionsConfig struct {
	CheckInterval time.Duration `yaml:"check_interval" koanf:"check_interval"`
	Schedule      string        `yaml:"schedule" koanf:"schedule"`
	TouchHealthy  bool          `yaml:"touch_healthy" koanf:"touch_healthy"`
	Providers     []string      `yaml:"providers" koanf:"providers"`
}

// ProvidersConfig holds credentials per external tracker.
type ProvidersConfig struct {
	VSTS   VSTSConfig   `yaml:"vsts" koanf:"vsts"`
	GitHub GitHubConfig `yaml:"github" koanf:"github"`
}

// VSTSConfig configures the Azure DevOps client.
type VSTSConfig struct {
	Token             string `yaml:"token" koanf:"token"`
	APIVersion        string `yaml:"api_version" koanf:"api_version"`
	RequestsPerMinute int    `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// GitHubConfig configures the GitHub client.
type GitHubConfig struct {
	Token             string `yaml:"token" koanf:"token"`
	BaseURL           string `yaml:"base_url" koanf:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}
