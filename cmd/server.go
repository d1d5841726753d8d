package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/issue-sync/internal/analytics"
	"github.com/ziadkadry99/issue-sync/internal/features"
	"github.com/ziadkadry99/issue-sync/internal/issuesync"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/scheduler"
	"github.com/ziadkadry99/issue-sync/internal/server"
	"github.com/ziadkadry99/issue-sync/internal/subscriptions"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the admin API, task queue and subscription scheduler",
	Long: `Starts the task workers, the periodic subscription scans and the
admin HTTP API. Stops gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serverPort != 0 {
			cfg.Server.Port = serverPort
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.queue.Start()

		cron := scheduler.New(a.queue, a.logger)
		for _, p := range a.subscriptions.Providers() {
			err := cron.Add(scheduler.Trigger{
				Name:        "subscriptions." + p,
				Description: "Scan " + p + " webhook subscriptions",
				Schedule:    cfg.Subscriptions.Schedule,
				Task:        subscriptions.TaskKickoffCheck,
				Args:        subscriptions.KickoffArgs{Provider: p},
			})
			if err != nil {
				return err
			}
		}
		cron.Start()
		defer cron.Stop()

		srv := server.New(server.Config{
			Port:     cfg.Server.Port,
			AllowAll: cfg.Server.AllowAllOrigins,
		}, a.db, a.logger)
		registerAllRoutes(srv, a)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "issuesync server %s starting on port %d\n", Version, cfg.Server.Port)
		fmt.Fprintf(os.Stderr, "  Database: %s\n", cfg.DatabasePath)
		fmt.Fprintf(os.Stderr, "  Workers: %d\n", cfg.Queue.Workers)
		fmt.Fprintf(os.Stderr, "  Monitored providers: %v\n", a.subscriptions.Providers())

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// registerAllRoutes wires up every admin endpoint.
func registerAllRoutes(srv *server.Server, a *app) {
	r := srv.Router()

	issuesync.RegisterRoutes(r, a.queue)
	subscriptions.RegisterRoutes(r, a.subscriptions)
	queue.RegisterRoutes(r, a.queue, a.failures)
	analytics.RegisterRoutes(r, a.analytics)
	features.RegisterRoutes(r, a.features, a.tracker)
}

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
