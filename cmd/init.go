package cmd

import (
	"github.com/spf13/cobra"
	"github.com/ziadkadry99/issue-sync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize issuesync configuration with an interactive wizard",
	Long:  `Runs an interactive wizard and writes the configuration file (default .issuesync.yml).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
