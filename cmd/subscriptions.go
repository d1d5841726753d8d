package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/issue-sync/internal/progress"
	"github.com/ziadkadry99/issue-sync/internal/subscriptions"
)

var (
	scanWait    bool
	scanTimeout time.Duration
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Inspect provider webhook subscriptions",
}

var subscriptionsScanCmd = &cobra.Command{
	Use:   "scan [provider...]",
	Short: "Select stale subscriptions and check them now",
	Long: `Runs the subscription scan for the given providers (default: every
monitored provider). With --wait the scheduled checks are run before the
command returns.`,
	RunE: runSubscriptionsScan,
}

func init() {
	subscriptionsScanCmd.Flags().BoolVar(&scanWait, "wait", true, "run the scheduled checks before exiting")
	subscriptionsScanCmd.Flags().DurationVar(&scanTimeout, "timeout", 5*time.Minute, "how long to wait for checks")

	subscriptionsCmd.AddCommand(subscriptionsScanCmd)
	rootCmd.AddCommand(subscriptionsCmd)
}

func runSubscriptionsScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	providers := args
	if len(providers) == 0 {
		providers = a.subscriptions.Providers()
	}
	if len(providers) == 0 {
		return fmt.Errorf("no providers are monitored; set subscriptions.providers in %s", cfgFile)
	}

	started := time.Now()
	if scanWait {
		a.queue.Start()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, p := range providers {
		reporter := progress.NewReporter("Scanning " + p + " subscriptions")
		result, err := a.subscriptions.Scan(ctx, p, progress.Func(reporter, "integration"))
		reporter.Finish()
		if err != nil {
			return err
		}
		fmt.Printf("%s: scanned %d, skipped %d, selected %d, scheduled %d check(s)\n",
			result.Provider, result.Scanned, result.Skipped, result.Selected, result.Scheduled)
	}

	if !scanWait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	if err := a.queue.Drain(waitCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: checks still pending after %s; retries are dropped on exit\n", scanTimeout)
	}
	return printFailuresSince(ctx, a, subscriptions.TaskCheck, started)
}
