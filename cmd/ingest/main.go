package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/app"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("gastos-ingest"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Ingest procurement releases from the open-contracting portal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config file")

	rootCmd.AddCommand(runCmd(appLogger))
	rootCmd.AddCommand(recomputeCmd(appLogger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and wires components under a context cancelled on
// SIGINT/SIGTERM.
func setup(log *logger.Logger) (context.Context, context.CancelFunc, *config.Config, *app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(log.WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}
	return ctx, cancel, cfg, components, nil
}

func runCmd(log *logger.Logger) *cobra.Command {
	var (
		year  int
		month int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass",
		Long: `Run one ingestion pass and exit.

Without flags the scheduled lookback window is ingested. --year alone
ingests the yearly feed; --year with --month ingests one month.

Examples:
  ingest run
  ingest run --year 2024 --month 3
  ingest run --year 2019`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month != 0 && year == 0 {
				return fmt.Errorf("--month requires --year")
			}
			if month < 0 || month > 12 {
				return fmt.Errorf("--month must be between 1 and 12")
			}

			ctx, cancel, cfg, components, err := setup(log)
			if err != nil {
				return err
			}
			defer cancel()
			defer components.Close()

			sched, err := components.NewScheduler(&cfg.Scheduler, log)
			if err != nil {
				return err
			}

			var periods []domain.Period
			switch {
			case year != 0 && month != 0:
				periods = []domain.Period{domain.MonthPeriod(year, time.Month(month))}
			case year != 0:
				periods = []domain.Period{domain.YearPeriod(year)}
			}

			stats, err := sched.RunNow(ctx, periods...)
			if stats != nil {
				log.WithFields(logger.Fields{
					"periods":    stats.Periods,
					"discovered": stats.Discovered,
					"existing":   stats.Existing,
					"fetched":    stats.Fetched,
					"inserted":   stats.Inserted,
					"updated":    stats.Updated,
					"unchanged":  stats.Unchanged,
					"failed":     stats.FetchFailed + stats.PersistFailed,
				}).Info("Ingestion completed")
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&year, "year", "y", 0, "year to ingest")
	cmd.Flags().IntVarP(&month, "month", "m", 0, "month to ingest (requires --year)")
	return cmd
}

func recomputeCmd(log *logger.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute amounts stored under an older calculation version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, _, components, err := setup(log)
			if err != nil {
				return err
			}
			defer cancel()
			defer components.Close()

			if _, err := components.Health.EnsureStore(ctx); err != nil {
				return err
			}
			stats, err := components.Recomputer.RecomputeStale(ctx, limit)
			if err != nil {
				return err
			}
			log.WithFields(logger.Fields{
				"updated": stats.Updated,
				"failed":  stats.Failed,
			}).Info("Recompute completed")
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum records to recompute")
	return cmd
}
