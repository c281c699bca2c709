/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tenancy financial engine. Handles
  configuration, dependency injection, and graceful shutdown, and exposes
  the maintenance jobs and demo scenarios as one-shot commands.

COMMANDS:
  serve                        Run the HTTP API and the cron jobs
  jobs run <name>              Run overdue | reservations | rolling once
  scenarios list               Show the demo data sets
  scenarios load <id>          Seed an agency with a demo data set

STARTUP SEQUENCE (serve):
  1. Load .env, config.yaml and environment (config package)
  2. Initialize zap logger
  3. Open SQLite store (migrations run on open)
  4. Wire notifiers, services, job scheduler and HTTP handler
  5. Start cron jobs and the HTTP server
  6. Graceful shutdown on signal

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the cron scheduler and wait for a running job
  4. Close Redis and the database connection

ENVIRONMENT:
  PORT, DATABASE_PATH, ENV, LOG_LEVEL, REDIS_ADDR, REDIS_PASSWORD,
  REDIS_DB, NOTIFICATION_QUEUE, OVERDUE_CRON, RESERVATION_SWEEP_CRON,
  ROLLING_CRON, ROLLING_LEAD_DAYS, RATE_LIMIT_PER_MINUTE, ALLOWED_ORIGINS.
  DATABASE_PATH=":memory:" runs against an in-memory database.

EXAMPLES:
  tenancy-engine serve
  PORT=3000 DATABASE_PATH=./data/tenancy.db tenancy-engine serve
  tenancy-engine jobs run overdue
  tenancy-engine scenarios load rolling-monthly --agency demo

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - jobs/scheduler.go: Cron jobs
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/warp/tenancy-engine/api"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "tenancy-engine",
		Short:         "Rent schedules, payments and holding deposits for letting agencies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), jobsCmd(), scenariosCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.scheduler.Start(); err != nil {
				return err
			}

			router := api.NewRouter(a.handler, api.RouterOptions{
				AllowedOrigins:     a.cfg.Origins(),
				RateLimitPerMinute: a.cfg.RateLimitPerMinute,
			})
			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 35 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting",
					zap.Int("port", a.cfg.Port),
					zap.String("env", a.cfg.Env),
					zap.String("database", a.cfg.DatabasePath),
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.scheduler.Stop()
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.scheduler.Stop()

			a.logger.Info("server stopped")
			return nil
		},
	}
}

// =============================================================================
// JOBS
// =============================================================================

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run maintenance jobs outside the schedule",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "run <name>",
		Short:     "Run one job across all agencies",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"overdue", "reservations", "rolling"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.scheduler.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d agencies, %d affected, %d failed\n",
				res.Job, res.Agencies, res.Affected, len(res.Failed))
			if len(res.Failed) > 0 {
				return fmt.Errorf("%s failed for %v", res.Job, res.Failed)
			}
			return nil
		},
	})
	return cmd
}

// =============================================================================
// SCENARIOS
// =============================================================================

func scenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Demo data sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List demo scenarios",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, s := range api.Scenarios() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", s.ID, s.Description)
			}
		},
	})

	var agency string
	load := &cobra.Command{
		Use:   "load <id>",
		Short: "Seed an agency with a demo scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.handler.Seed(cmd.Context(), lettings.AgencyID(agency), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s into agency %s\n", args[0], agency)
			return nil
		},
	}
	load.Flags().StringVar(&agency, "agency", "demo", "agency to seed")
	cmd.AddCommand(load)

	return cmd
}
