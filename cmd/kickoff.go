package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/issue-sync/internal/issuesync"
	"github.com/ziadkadry99/issue-sync/internal/queue"
)

var (
	kickoffProject int64
	kickoffGroup   int64
	kickoffTimeout time.Duration
)

var kickoffCmd = &cobra.Command{
	Use:   "kickoff-status-syncs",
	Short: "Mirror a group's status to every linked external issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if kickoffProject == 0 || kickoffGroup == 0 {
			return fmt.Errorf("--project and --group are required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		started := time.Now()
		a.queue.Start()

		ctx, cancel := context.WithTimeout(context.Background(), kickoffTimeout)
		defer cancel()

		err = a.queue.Run(ctx, issuesync.TaskKickOffStatusSyncs, issuesync.KickoffArgs{
			ProjectID: kickoffProject,
			GroupID:   kickoffGroup,
		})
		if outcome, ok := queue.TerminalOutcome(err); ok {
			return fmt.Errorf("kickoff %s: %w", outcome, err)
		}
		if err != nil {
			return err
		}

		if err := a.queue.Drain(ctx); err != nil {
			return fmt.Errorf("waiting for status syncs: %w", err)
		}
		fmt.Printf("Status syncs for group %d finished\n", kickoffGroup)
		return printFailuresSince(context.Background(), a, issuesync.TaskSyncStatusOutbound, started)
	},
}

func init() {
	kickoffCmd.Flags().Int64Var(&kickoffProject, "project", 0, "project id of the group")
	kickoffCmd.Flags().Int64Var(&kickoffGroup, "group", 0, "group id")
	kickoffCmd.Flags().DurationVar(&kickoffTimeout, "timeout", 2*time.Minute, "how long to wait for the syncs")
	rootCmd.AddCommand(kickoffCmd)
}
