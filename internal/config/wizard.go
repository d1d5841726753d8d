package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to issuesync! Let's configure the sync service.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Database location.
	dbPrompt := promptui.Prompt{
		Label:   "SQLite database path",
		Default: cfg.DatabasePath,
	}
	dbPath, err := dbPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	cfg.DatabasePath = dbPath

	// 2. Admin API port.
	portPrompt := promptui.Prompt{
		Label:   "Admin API port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("enter a port between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	// 3. Monitored providers.
	monitorPrompt := promptui.Select{
		Label: "Keep webhook subscriptions alive for",
		Items: []string{
			"vsts",
			"github",
			"vsts and github",
			"none",
		},
	}
	monitorIdx, _, err := monitorPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Subscriptions.Providers = [][]string{
		{ProviderVSTS},
		{ProviderGitHub},
		{ProviderVSTS, ProviderGitHub},
		{},
	}[monitorIdx]

	// 4. Organizations with issue sync.
	orgPrompt := promptui.Prompt{
		Label:   "Organizations with issue sync (comma-separated slug globs)",
		Default: "*",
	}
	orgStr, err := orgPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("organization patterns: %w", err)
	}
	if patterns := splitAndTrim(orgStr); len(patterns) > 0 {
		cfg.Features["integrations-issue-sync"] = patterns
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, p := range []string{ProviderVSTS, ProviderGitHub} {
		if envVar := TokenEnvVar(p); os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: set %s before syncing with %s.\n", envVar, p)
		}
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and drops empty entries.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
