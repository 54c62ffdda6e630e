// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/findings"
)

// TextReporter writes findings grouped by unit for terminal display.
type TextReporter struct {
	collector
	writer  io.WriteCloser
	catalog map[string]rules.Metadata
}

// NewTextReporter creates a reporter that writes plain text.
func NewTextReporter(writer io.WriteCloser, opts Options) *TextReporter {
	return &TextReporter{writer: writer, catalog: catalogIndex(opts.Catalog)}
}

// Write buffers the result of one unit.
func (r *TextReporter) Write(result core.ScanResult) error {
	return r.add(result)
}

// Close renders the buffered results and closes the writer.
func (r *TextReporter) Close() error {
	results, err := r.drain()
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, res := range results {
		r.writeUnit(&sb, res)
	}
	writeTextSummary(&sb, findings.Summarize(results))

	if _, err := io.WriteString(r.writer, sb.String()); err != nil {
		return finish(r.writer, fmt.Errorf("failed to write text output: %w", err))
	}
	return finish(r.writer, nil)
}

func (r *TextReporter) writeUnit(sb *strings.Builder, res core.ScanResult) {
	if res.Status == core.StatusOK && len(res.Findings) == 0 && len(res.Faults) == 0 {
		return
	}
	sb.WriteString(res.UnitID)
	sb.WriteString("\n")
	if res.Status != core.StatusOK {
		sb.WriteString(fmt.Sprintf("  [%s]\n", statusText(res)))
	}

	for _, f := range res.Findings {
		loc := f.Location
		sb.WriteString(fmt.Sprintf("  %d:%d  %-8s  %s  %s", loc.Line, loc.Column+1, f.Severity, f.RuleID, f.Message))
		if f.Confidence == core.ConfidenceLow {
			sb.WriteString(" (low confidence)")
		}
		sb.WriteString("\n")
		if loc.Snippet != "" {
			sb.WriteString(fmt.Sprintf("      Code: %s\n", loc.Snippet))
		}
		fix := f.Remediation
		if fix == "" {
			fix = r.catalog[f.RuleID].Remediation
		}
		if fix != "" {
			sb.WriteString(fmt.Sprintf("      Fix:  %s\n", fix))
		}
	}
	for _, fault := range res.Faults {
		sb.WriteString(fmt.Sprintf("  rule %s faulted at %s: %s\n", fault.RuleID, fault.Span, fault.Reason))
	}
	sb.WriteString("\n")
}

func writeTextSummary(sb *strings.Builder, s findings.Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	var parts []string
	for sev := core.SeverityCritical; sev > core.SeverityUnknown; sev-- {
		if n := s.Counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	line := fmt.Sprintf("%d finding(s) in %d unit(s)", s.Total, s.Units)
	if len(parts) > 0 {
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	sb.WriteString(line + ".\n")
	if s.Failed > 0 || s.Degraded > 0 {
		sb.WriteString(fmt.Sprintf("%d unit(s) failed, %d degraded.\n", s.Failed, s.Degraded))
	}
	if s.Faults > 0 {
		sb.WriteString(fmt.Sprintf("%d rule fault(s).\n", s.Faults))
	}
}
