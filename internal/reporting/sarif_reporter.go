// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/observability"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "sinkscan"
	ToolInfoURI = "https://github.com/xkilldash9x/sinkscan"
)

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	collector
	writer  io.WriteCloser
	logger  *zap.Logger
	version string
	catalog map[string]rules.Metadata
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, opts Options) *SARIFReporter {
	return &SARIFReporter{
		writer:  writer,
		logger:  observability.GetLogger().Named("sarif_reporter"),
		version: opts.ToolVersion,
		catalog: catalogIndex(opts.Catalog),
	}
}

// Write buffers the result of one unit.
func (r *SARIFReporter) Write(result core.ScanResult) error {
	return r.add(result)
}

// Close builds the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()
	results, err := r.drain()
	if err != nil {
		return err
	}

	report, err := r.build(results)
	if err != nil {
		return finish(r.writer, fmt.Errorf("failed to build SARIF report: %w", err))
	}
	run := report.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	if err := report.PrettyWrite(r.writer); err != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(err))
		return finish(r.writer, fmt.Errorf("failed to encode SARIF output: %w", err))
	}
	if err := finish(r.writer, nil); err != nil {
		r.logger.Error("Failed to close output writer", zap.Error(err))
		return err
	}

	r.logger.Info("Successfully wrote SARIF report", zap.Duration("duration_ms", time.Since(startTime)))
	return nil
}

func (r *SARIFReporter) build(results []core.ScanResult) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, err
	}

	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)
	if r.version != "" {
		version := r.version
		run.Tool.Driver.Version = &version
	}
	// Every catalogued rule is described, including rules that did not fire.
	for _, id := range sortedIDs(r.catalog) {
		r.ensureRule(run, id)
	}
	run.Results = []*sarif.Result{}

	for _, unit := range results {
		if unit.Status != core.StatusOK {
			r.logger.Warn("Unit did not complete cleanly.",
				zap.String("unit", unit.UnitID),
				zap.String("status", statusText(unit)),
			)
		}
		for _, f := range unit.Findings {
			r.ensureRule(run, f.RuleID)
			run.AddResult(r.result(unit.UnitID, f))
		}
	}
	report.AddRun(run)
	return report, nil
}

// ensureRule registers a descriptor for id once. Ids missing from the catalog get a
// bare descriptor.
func (r *SARIFReporter) ensureRule(run *sarif.Run, id string) {
	for _, existing := range run.Tool.Driver.Rules {
		if existing.ID == id {
			return
		}
	}

	meta, known := r.catalog[id]
	rule := run.AddRule(id)
	if !known {
		r.logger.Debug("Registering SARIF rule without catalog entry", zap.String("rule_id", id))
		return
	}

	name := meta.Name
	description := meta.Description
	remediation := meta.Remediation
	markdownHelp := fmt.Sprintf("**%s**\n\n%s\n\n**Remediation:**\n%s", meta.Name, meta.Description, meta.Remediation)

	rule.WithDescription(meta.Name).
		WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(sarifLevel(meta.Severity)))
	rule.Name = &name
	rule.FullDescription = &sarif.MultiformatMessageString{Text: &description}
	rule.Help = &sarif.MultiformatMessageString{Text: &remediation, Markdown: &markdownHelp}

	tags := []string{"security", "javascript"}
	if meta.CWE != "" {
		tags = append(tags, meta.CWE)
	}
	rule.WithProperties(sarif.Properties{
		"tags":              tags,
		"precision":         "high",
		"problem.severity":  sarifLevel(meta.Severity),
		"security-severity": securitySeverity(meta.Severity),
	})
}

func (r *SARIFReporter) result(unitID string, f core.Finding) *sarif.Result {
	loc := f.Location
	region := sarif.NewRegion().
		WithStartLine(loc.Line).
		WithStartColumn(loc.Column + 1).
		WithEndLine(loc.EndLine).
		WithEndColumn(loc.EndColumn + 1).
		WithByteOffset(f.Span.Start).
		WithByteLength(f.Span.Len())
	if loc.Snippet != "" {
		snippet := loc.Snippet
		region.Snippet = &sarif.ArtifactContent{Text: &snippet}
	}

	location := sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(unitID)).
			WithRegion(region),
	)

	res := sarif.NewRuleResult(f.RuleID).
		WithMessage(sarif.NewTextMessage(f.Message)).
		WithLevel(sarifLevel(f.Severity)).
		WithLocations([]*sarif.Location{location})
	res.PropertyBag = *sarif.NewPropertyBag()
	res.Add("confidence", string(f.Confidence))
	res.Add("severity", f.Severity.String())
	return res
}

// sarifLevel converts a severity to the SARIF standard levels.
func sarifLevel(severity core.Severity) string {
	switch severity {
	case core.SeverityCritical, core.SeverityHigh:
		return "error"
	case core.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// securitySeverity is the numeric score code scanning dashboards bucket on.
func securitySeverity(severity core.Severity) string {
	switch severity {
	case core.SeverityCritical:
		return "9.5"
	case core.SeverityHigh:
		return "8.0"
	case core.SeverityMedium:
		return "5.5"
	default:
		return "3.0"
	}
}
