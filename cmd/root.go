package cmd

import (
	"github.com/spf13/cobra"
	"github.com/ziadkadry99/issue-sync/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "Mirror issue activity to external trackers",
	Long: `issuesync pushes comments, assignments and resolution changes of
internal issues to linked issues in external trackers (Azure DevOps,
GitHub), and keeps the trackers' webhook subscriptions alive.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
