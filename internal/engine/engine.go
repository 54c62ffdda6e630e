// Package engine runs the rule set over source units: one unit synchronously via Scan,
// many in parallel via ScanBatch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
	"github.com/xkilldash9x/sinkscan/internal/findings"
	"github.com/xkilldash9x/sinkscan/internal/source"
)

// Options is the caller-supplied configuration surface of the engine.
type Options struct {
	// Enabled maps rule ids to on/off. Rules missing from the map are on.
	Enabled map[string]bool
	// MinSeverity drops findings below it. The zero value keeps everything.
	MinSeverity core.Severity
	// Concurrency bounds ScanBatch. Values <= 0 use a default of 4.
	Concurrency int
	// UnitTimeout bounds a single unit in ScanBatch. Zero disables it.
	UnitTimeout time.Duration
}

// Input is one unit of a batch: raw bytes and a reporting label. Err records a failure
// to obtain the bytes; such a unit is reported as invalid input without scanning.
type Input struct {
	ID   string
	Data []byte
	Err  error
}

// Engine applies a fixed rule set. It holds no per-scan state and is safe for
// concurrent use.
type Engine struct {
	registry *rules.Registry
	active   []rules.Rule
	opts     Options
	logger   *zap.Logger
}

// New creates an engine over the rules of registry enabled by opts.
func New(registry *rules.Registry, opts Options, logger *zap.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("rule registry cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	var unknown []string
	for id := range opts.Enabled {
		unknown = append(unknown, id)
	}
	if missing := registry.Unknown(unknown); len(missing) > 0 {
		return nil, fmt.Errorf("unknown rule ids in configuration: %v", missing)
	}

	e := &Engine{
		registry: registry,
		active:   registry.Active(opts.Enabled),
		opts:     opts,
		logger:   logger.Named("engine"),
	}
	e.logger.Debug("Engine initialized.",
		zap.Int("active_rules", len(e.active)),
		zap.Int("registered_rules", registry.Len()),
		zap.Stringer("min_severity", opts.MinSeverity),
	)
	return e, nil
}

// Rules returns the active rules.
func (e *Engine) Rules() []rules.Rule {
	out := make([]rules.Rule, len(e.active))
	copy(out, e.active)
	return out
}

// ApplyRules walks the tree once, depth-first in pre-order, and offers every node to
// every rule. A rule that panics is recorded as a single RuleFault; its findings for
// this tree are discarded and it is skipped for the remaining nodes. Other rules are
// unaffected.
func ApplyRules(root *javascript.Node, active []rules.Rule) ([]core.Finding, []core.RuleFault) {
	perRule := make([][]core.Finding, len(active))
	faulted := make([]bool, len(active))
	var faults []core.RuleFault

	root.Walk(func(n *javascript.Node) bool {
		for i, rule := range active {
			if faulted[i] {
				continue
			}
			found, fault := matchSafely(rule, n)
			if fault != nil {
				faulted[i] = true
				perRule[i] = nil
				faults = append(faults, *fault)
				continue
			}
			perRule[i] = append(perRule[i], found...)
		}
		return true
	})

	var out []core.Finding
	for _, fs := range perRule {
		out = append(out, fs...)
	}
	return out, faults
}

func matchSafely(rule rules.Rule, n *javascript.Node) (found []core.Finding, fault *core.RuleFault) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			fault = &core.RuleFault{RuleID: rule.ID(), Span: n.Span, Reason: fmt.Sprint(r)}
		}
	}()
	return rule.Match(n), nil
}

// Scan runs scanner, rules and aggregator over one unit. The context is checked between
// phases; a unit abandoned that way comes back with StatusCanceled.
func (e *Engine) Scan(ctx context.Context, unit *source.Unit) core.ScanResult {
	logger := e.logger.With(zap.String("unit", unit.ID()))
	if err := ctx.Err(); err != nil {
		return e.canceled(unit.ID(), err, logger)
	}

	root, diag := javascript.ScanContext(ctx, unit.Text())
	if err := ctx.Err(); err != nil {
		return e.canceled(unit.ID(), err, logger)
	}

	found, faults := ApplyRules(root, e.active)
	for _, f := range faults {
		logger.Error("Rule faulted; its findings for this unit were discarded.",
			zap.String("rule_id", f.RuleID),
			zap.Stringer("span", f.Span),
			zap.String("reason", f.Reason),
		)
	}

	result := findings.Aggregate(unit.ID(), found)
	result = findings.Filter(result, e.opts.MinSeverity)
	result = findings.Locate(result, unit)
	result.Faults = faults

	if diag.Degraded {
		result.Status = core.StatusDegraded
		result.Err = fmt.Errorf("%w: %s at offset %d", core.ErrScanDegraded, diag.Reason, diag.Offset)
		for i := range result.Findings {
			result.Findings[i] = result.Findings[i].WithConfidence(core.ConfidenceLow)
		}
		logger.Warn("Scan degraded; findings reported with low confidence.",
			zap.Int("offset", diag.Offset),
			zap.String("reason", diag.Reason),
		)
	}

	logger.Debug("Unit scanned.",
		zap.String("status", string(result.Status)),
		zap.Int("findings", len(result.Findings)),
		zap.Int("nodes", diag.Nodes),
	)
	return result
}

// ScanInput validates raw input and scans it. Invalid input fails this unit only.
func (e *Engine) ScanInput(ctx context.Context, in Input) core.ScanResult {
	if in.Err != nil {
		e.logger.Warn("Unit could not be read.", zap.String("unit", in.ID), zap.Error(in.Err))
		return core.ScanResult{
			UnitID:   in.ID,
			Status:   core.StatusInvalidInput,
			Findings: []core.Finding{},
			Err:      fmt.Errorf("%w: %v", core.ErrInvalidInput, in.Err),
		}
	}
	unit, err := source.New(in.ID, in.Data)
	if err != nil {
		e.logger.Warn("Rejecting unit.", zap.String("unit", in.ID), zap.Error(err))
		return core.ScanResult{
			UnitID:   in.ID,
			Status:   core.StatusInvalidInput,
			Findings: []core.Finding{},
			Err:      err,
		}
	}
	return e.Scan(ctx, unit)
}

// ScanBatch scans inputs concurrently and returns one result per input, in input
// order. A failing unit never affects the others, and no goroutine outlives the call.
func (e *Engine) ScanBatch(ctx context.Context, inputs []Input) []core.ScanResult {
	results := make([]core.ScanResult, len(inputs))
	concurrency := e.opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	start := time.Now()
	e.logger.Info("Starting batch scan.", zap.Int("units", len(inputs)), zap.Int("concurrency", concurrency))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			unitCtx := ctx
			if e.opts.UnitTimeout > 0 {
				var cancel context.CancelFunc
				unitCtx, cancel = context.WithTimeout(ctx, e.opts.UnitTimeout)
				defer cancel()
			}
			results[i] = e.ScanInput(unitCtx, in)
			return nil
		})
	}
	// Workers never return errors; per-unit failures live in the results.
	_ = g.Wait()

	summary := findings.Summarize(results)
	e.logger.Info("Batch scan finished.",
		zap.Int("units", summary.Units),
		zap.Int("findings", summary.Total),
		zap.Int("failed", summary.Failed),
		zap.Int("degraded", summary.Degraded),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

func (e *Engine) canceled(unitID string, err error, logger *zap.Logger) core.ScanResult {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("Unit scan timed out before completion.", zap.Error(err))
	} else {
		logger.Warn("Unit scan was cancelled.", zap.Error(err))
	}
	return core.ScanResult{
		UnitID:   unitID,
		Status:   core.StatusCanceled,
		Findings: []core.Finding{},
		Err:      fmt.Errorf("scan of %s abandoned: %w", unitID, err),
	}
}
