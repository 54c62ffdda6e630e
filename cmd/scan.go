// File: cmd/scan.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
	"github.com/xkilldash9x/sinkscan/internal/config"
	"github.com/xkilldash9x/sinkscan/internal/engine"
	"github.com/xkilldash9x/sinkscan/internal/findings"
	"github.com/xkilldash9x/sinkscan/internal/observability"
	"github.com/xkilldash9x/sinkscan/internal/reporting"
	"github.com/xkilldash9x/sinkscan/internal/store"
)

// stdinUnitID labels the unit read when a path argument is "-".
const stdinUnitID = "<stdin>"

// newScanCmd creates and configures the `scan` command.
func newScanCmd(provider storeProvider) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [paths...|-]",
		Short: "Scans JavaScript files and directories for dangerous sink patterns",
		Long: `Scans every JavaScript file under the given paths (directories are walked,
skipping scanner.exclude_dirs) and writes a report. Use "-" to read a single unit from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyScanFlagOverrides(cmd, cfg, args); err != nil {
				return err
			}
			return runScan(ctx, cfg, cmd.InOrStdin(), provider, logger)
		},
	}

	// Reporting flags
	scanCmd.Flags().StringP("format", "f", "", "Report format: text, json, sarif or markdown. (Overrides config/env)")
	scanCmd.Flags().StringP("output", "o", "", "Report file path; stdout when unset. (Overrides config/env)")
	scanCmd.Flags().String("fail-on", "", "Exit with status 2 when a finding is at or above this severity. (Overrides config/env)")

	// Engine override flags.
	scanCmd.Flags().IntP("concurrency", "j", 0, "Number of units scanned concurrently. (Overrides config/env)")
	scanCmd.Flags().String("min-severity", "", "Drop findings below this severity. (Overrides config/env)")
	scanCmd.Flags().StringSlice("disable", nil, "Rule ids to disable, comma separated or repeated.")

	// Persistence flags.
	scanCmd.Flags().Bool("persist", false, "Store the run in PostgreSQL (requires database.url).")
	scanCmd.Flags().String("run-id", "", "UUID to persist the run under; generated when unset.")

	return scanCmd
}

// applyScanFlagOverrides folds explicitly set flags into cfg. Flags left at their
// defaults never override config file or environment values.
func applyScanFlagOverrides(cmd *cobra.Command, cfg config.Interface, paths []string) error {
	flags := cmd.Flags()

	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		if n <= 0 {
			return fmt.Errorf("invalid --concurrency value %d: must be a positive integer", n)
		}
		cfg.SetEngineConcurrency(n)
	}
	if flags.Changed("min-severity") {
		s, _ := flags.GetString("min-severity")
		if _, err := core.ParseSeverity(s); err != nil {
			return fmt.Errorf("invalid --min-severity value: %w", err)
		}
		cfg.SetEngineMinSeverity(s)
	}
	if flags.Changed("disable") {
		ids, _ := flags.GetStringSlice("disable")
		cfg.SetRulesDisabled(append(append([]string{}, cfg.Rules().Disabled...), ids...))
	}
	if flags.Changed("format") {
		f, _ := flags.GetString("format")
		cfg.SetReportFormat(f)
	}
	if flags.Changed("output") {
		o, _ := flags.GetString("output")
		expanded, err := config.ExpandPath(o)
		if err != nil {
			return fmt.Errorf("invalid --output value: %w", err)
		}
		cfg.SetReportOutput(expanded)
	}
	if flags.Changed("fail-on") {
		s, _ := flags.GetString("fail-on")
		if _, err := core.ParseSeverity(s); err != nil {
			return fmt.Errorf("invalid --fail-on value: %w", err)
		}
		cfg.SetReportFailOn(s)
	}

	persist, _ := flags.GetBool("persist")
	runID, _ := flags.GetString("run-id")
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			return fmt.Errorf("invalid --run-id value %q: %w", runID, err)
		}
	}
	cfg.SetScanConfig(config.ScanConfig{Paths: paths, RunID: runID, Persist: persist})
	return nil
}

// runScan contains the core, testable logic of the scan command.
func runScan(ctx context.Context, cfg config.Interface, stdin io.Reader, provider storeProvider, logger *zap.Logger) error {
	scanCfg := cfg.Scan()
	engineCfg := cfg.Engine()

	registry := rules.Default(javascript.NewSanitizerSet(cfg.Scanner().Sanitizers))
	eng, err := engine.New(registry, engine.Options{
		Enabled:     cfg.Rules().Enabled(),
		MinSeverity: engineCfg.Severity(),
		Concurrency: engineCfg.Concurrency,
		UnitTimeout: engineCfg.UnitTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	inputs, err := collectInputs(scanCfg.Paths, cfg.Scanner(), engineCfg.MaxUnitBytes, stdin, logger)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		logger.Warn("No JavaScript files matched the given paths.", zap.Strings("paths", scanCfg.Paths))
	}

	reportCfg := cfg.Report()
	reporter, err := reporting.New(reportCfg.Format, reportCfg.Output, reporting.Options{
		ToolVersion: Version,
		Catalog:     rules.Catalog(registry.All()),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}

	startedAt := time.Now()
	results := eng.ScanBatch(ctx, inputs)
	finishedAt := time.Now()

	for _, res := range results {
		if err := reporter.Write(res); err != nil {
			_ = reporter.Close()
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if ctx.Err() != nil {
		logger.Warn("Scan aborted; the report covers the units finished before cancellation.")
		return fmt.Errorf("scan aborted: %w", ctx.Err())
	}

	if scanCfg.Persist {
		runID := scanCfg.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		if err := persistRun(ctx, cfg, provider, store.Run{
			ID:          runID,
			ToolVersion: Version,
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
			Results:     results,
		}); err != nil {
			return err
		}
		logger.Info("Scan run persisted; render it again with `sinkscan report --run-id`.", zap.String("run_id", runID))
	}

	if threshold := reportCfg.FailOnSeverity(); threshold != core.SeverityUnknown {
		if n := findings.Summarize(results).AtLeast(threshold); n > 0 {
			return fmt.Errorf("%w: %d finding(s) at or above %s", ErrFailOnThreshold, n, threshold)
		}
	}
	return nil
}

func persistRun(ctx context.Context, cfg config.Interface, provider storeProvider, run store.Run) error {
	if provider == nil {
		return errors.New("persistence is not available")
	}
	runStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := runStore.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := runStore.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist scan run: %w", err)
	}
	return nil
}

// collectInputs expands paths into scan inputs. Directories are walked in lexical
// order keeping files with a configured extension; files named explicitly are always
// kept. Files larger than maxBytes are skipped with a warning. A file that cannot be
// read becomes an input carrying the read error, so it fails alone as invalid input.
func collectInputs(paths []string, scanner config.ScannerConfig, maxBytes int64, stdin io.Reader, logger *zap.Logger) ([]engine.Input, error) {
	extensions := make(map[string]bool, len(scanner.Extensions))
	for _, ext := range scanner.Extensions {
		extensions[strings.ToLower(ext)] = true
	}
	excluded := make(map[string]bool, len(scanner.ExcludeDirs))
	for _, dir := range scanner.ExcludeDirs {
		excluded[dir] = true
	}

	var inputs []engine.Input
	seen := make(map[string]bool)
	add := func(path string) {
		id := filepath.ToSlash(filepath.Clean(path))
		if seen[id] {
			return
		}
		seen[id] = true

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Cannot read file; reporting it as invalid input.", zap.String("path", path), zap.Error(err))
			inputs = append(inputs, engine.Input{ID: id, Err: fmt.Errorf("failed to read %s: %w", path, err)})
			return
		}
		inputs = append(inputs, engine.Input{ID: id, Data: data})
	}
	tooLarge := func(path string, size int64) bool {
		if maxBytes > 0 && size > maxBytes {
			logger.Warn("Skipping file above engine.max_unit_bytes.",
				zap.String("path", path), zap.Int64("size", size), zap.Int64("limit", maxBytes))
			return true
		}
		return false
	}

	for _, root := range paths {
		if root == "-" {
			if seen[stdinUnitID] {
				continue
			}
			seen[stdinUnitID] = true
			data, err := readLimited(stdin, maxBytes)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, engine.Input{ID: stdinUnitID, Data: data})
			continue
		}

		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", root, err)
		}
		if !info.IsDir() {
			if !tooLarge(root, info.Size()) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && excluded[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if !tooLarge(path, fi.Size()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	logger.Debug("Collected scan inputs.", zap.Int("units", len(inputs)))
	return inputs, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if r == nil {
		return nil, errors.New("no stdin available")
	}
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("stdin exceeds engine.max_unit_bytes (%d)", maxBytes)
	}
	return data, nil
}
