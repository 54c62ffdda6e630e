// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
	"github.com/xkilldash9x/sinkscan/internal/config"
	"github.com/xkilldash9x/sinkscan/internal/observability"
	"github.com/xkilldash9x/sinkscan/internal/reporting"
	"github.com/xkilldash9x/sinkscan/internal/store"
)

// runStore is the part of store.Store the commands use.
type runStore interface {
	EnsureSchema(ctx context.Context) error
	SaveRun(ctx context.Context, run store.Run) error
	FindingsByRun(ctx context.Context, runID string) ([]core.ScanResult, error)
	Runs(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// storeProvider creates the run store. Tests inject a fake instead of a live
// database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources, and an
	// error if the store could not be reached.
	Create(ctx context.Context, cfg config.Interface) (runStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL through a pgx pool.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the PostgreSQL database named by database.url.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SINKSCAN_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var (
		runID      string
		list       bool
		limit      int
		outputPath string
		format     string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Re-renders a persisted scan run or lists stored runs",
		Long: `Loads the unit results of a run saved with "scan --persist" and writes them
in any report format. With --list, prints the most recent runs instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				cfg.SetReportFormat(format)
			}
			if cmd.Flags().Changed("output") {
				expanded, err := config.ExpandPath(outputPath)
				if err != nil {
					return fmt.Errorf("invalid --output value: %w", err)
				}
				cfg.SetReportOutput(expanded)
			}

			if list {
				return runListRuns(ctx, cmd.OutOrStdout(), cfg, limit, provider)
			}
			return runReport(ctx, logger, cfg, runID, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the persisted run to render")
	reportCmd.Flags().BoolVar(&list, "list", false, "List the most recent persisted runs")
	reportCmd.Flags().IntVar(&limit, "limit", 20, "Number of runs shown by --list")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report file path; stdout when unset. (Overrides config/env)")
	reportCmd.Flags().StringVarP(&format, "format", "f", "", "Report format: text, json, sarif or markdown. (Overrides config/env)")
	reportCmd.MarkFlagsOneRequired("run-id", "list")
	reportCmd.MarkFlagsMutuallyExclusive("run-id", "list")

	return reportCmd
}

// runReport renders a persisted run with the configured reporter.
func runReport(ctx context.Context, logger *zap.Logger, cfg config.Interface, runID string, provider storeProvider) error {
	logger.Info("Starting report generation", zap.String("run_id", runID))

	runStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	results, err := runStore.FindingsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load scan run: %w", err)
	}

	reportCfg := cfg.Report()
	registry := rules.Default(javascript.NewSanitizerSet(cfg.Scanner().Sanitizers))
	reporter, err := reporting.New(reportCfg.Format, reportCfg.Output, reporting.Options{
		ToolVersion: Version,
		Catalog:     rules.Catalog(registry.All()),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	for _, res := range results {
		if err := reporter.Write(res); err != nil {
			_ = reporter.Close()
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.Info("Report generated successfully.", zap.String("run_id", runID), zap.Int("units", len(results)))
	return nil
}

// runListRuns prints one line per stored run, newest first.
func runListRuns(ctx context.Context, out io.Writer, cfg config.Interface, limit int, provider storeProvider) error {
	runStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runs, err := runStore.Runs(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list scan runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No persisted runs.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-20s  %-10s  %6s  %8s  %6s  %8s\n", "RUN ID", "STARTED", "VERSION", "UNITS", "FINDINGS", "FAILED", "DEGRADED")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s  %-20s  %-10s  %6d  %8d  %6d  %8d\n",
			r.ID, r.StartedAt.UTC().Format("2006-01-02 15:04:05"), r.ToolVersion,
			r.Units, r.Findings, r.Failed, r.Degraded)
	}
	return nil
}
