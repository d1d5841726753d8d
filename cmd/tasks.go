package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	failuresTask  string
	failuresLimit int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect registered tasks and dead letters",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tasks and their retry policies",
	RunE:  runTasksList,
}

var tasksFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List tasks that failed terminally",
	RunE:  runTasksFailures,
}

func init() {
	tasksFailuresCmd.Flags().StringVar(&failuresTask, "task", "", "only show failures of this task")
	tasksFailuresCmd.Flags().IntVar(&failuresLimit, "limit", 20, "maximum number of failures")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksFailuresCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRETRIES\tDELAY\tRETRY ON\tEXCLUDE")
	for _, t := range a.queue.Tasks() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			t.Name, t.Policy.MaxRetries, t.Policy.Delay,
			joinErrors(t.Policy.On, "any"), joinErrors(t.Policy.Exclude, "-"))
	}
	return w.Flush()
}

func runTasksFailures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	failures, err := a.failures.List(context.Background(), failuresTask, failuresLimit)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Println("No failed tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAILED AT\tTASK\tOUTCOME\tATTEMPTS\tARGS\tERROR")
	for _, f := range failures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			f.FailedAt.Format(time.RFC3339), f.Task, f.Outcome, f.Attempts, f.Args, f.Error)
	}
	return w.Flush()
}

// printFailuresSince reports dead letters of task written after since.
func printFailuresSince(ctx context.Context, a *app, task string, since time.Time) error {
	failures, err := a.failures.List(ctx, task, 100)
	if err != nil {
		return err
	}
	since = since.Truncate(time.Second)
	n := 0
	for _, f := range failures {
		if f.FailedAt.Before(since) {
			continue
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, "Failed:")
		}
		n++
		fmt.Fprintf(os.Stderr, "  %s %s (%s after %d attempt(s)): %s\n", f.Task, f.Args, f.Outcome, f.Attempts, f.Error)
	}
	if n > 0 {
		return fmt.Errorf("%d task(s) failed", n)
	}
	return nil
}

func joinErrors(errs []error, empty string) string {
	if len(errs) == 0 {
		return empty
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, ", ")
}
