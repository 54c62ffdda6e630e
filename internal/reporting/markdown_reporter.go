// internal/reporting/markdown_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
	"github.com/xkilldash9x/sinkscan/internal/findings"
)

// MarkdownReporter writes a GitHub-flavored Markdown report, suited to pull request
// comments and job summaries.
type MarkdownReporter struct {
	collector
	writer  io.WriteCloser
	version string
	catalog map[string]rules.Metadata
}

// NewMarkdownReporter creates a reporter that writes Markdown.
func NewMarkdownReporter(writer io.WriteCloser, opts Options) *MarkdownReporter {
	return &MarkdownReporter{writer: writer, version: opts.ToolVersion, catalog: catalogIndex(opts.Catalog)}
}

// Write buffers the result of one unit.
func (r *MarkdownReporter) Write(result core.ScanResult) error {
	return r.add(result)
}

// Close renders the buffered results and closes the writer.
func (r *MarkdownReporter) Close() error {
	results, err := r.drain()
	if err != nil {
		return err
	}

	md := markdown.NewMarkdown(r.writer)
	summary := findings.Summarize(results)
	md.H1("sinkscan report")
	md.PlainText("")
	r.writeSummary(md, summary)
	r.writeFindings(md, results)
	r.writeProblems(md, results)
	r.writeFooter(md)

	if err := md.Build(); err != nil {
		return finish(r.writer, fmt.Errorf("failed to write markdown output: %w", err))
	}
	return finish(r.writer, nil)
}

func (r *MarkdownReporter) writeSummary(md *markdown.Markdown, s findings.Summary) {
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Count"},
		Rows: [][]string{
			{"Critical", strconv.Itoa(s.Counts[core.SeverityCritical])},
			{"High", strconv.Itoa(s.Counts[core.SeverityHigh])},
			{"Medium", strconv.Itoa(s.Counts[core.SeverityMedium])},
			{"Low", strconv.Itoa(s.Counts[core.SeverityLow])},
			{"**Total**", "**" + strconv.Itoa(s.Total) + "**"},
		},
	})
	md.PlainText("")

	switch {
	case s.Counts[core.SeverityCritical] > 0:
		md.Cautionf("%d critical finding(s) allow arbitrary script execution.", s.Counts[core.SeverityCritical])
	case s.Counts[core.SeverityHigh] > 0:
		md.Warningf("%d high severity finding(s) should be addressed.", s.Counts[core.SeverityHigh])
	case s.Total > 0:
		md.Note("Only medium and low severity findings detected.")
	default:
		md.Tip(fmt.Sprintf("No findings in %d unit(s).", s.Units))
	}
	md.PlainText("")
}

func (r *MarkdownReporter) writeFindings(md *markdown.Markdown, results []core.ScanResult) {
	md.H2("Findings")
	md.PlainText("")

	wrote := false
	for _, res := range results {
		if len(res.Findings) == 0 {
			continue
		}
		wrote = true
		md.H3("`" + res.UnitID + "`")
		md.PlainText("")

		rows := make([][]string, len(res.Findings))
		for i, f := range res.Findings {
			rows[i] = []string{
				fmt.Sprintf("%d:%d", f.Location.Line, f.Location.Column+1),
				f.Severity.String(),
				f.RuleID,
				escapeCell(f.Message),
				codeCell(f.Location.Snippet),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Line", "Severity", "Rule", "Message", "Code"},
			Rows:   rows,
		})
		md.PlainText("")

		seen := make(map[string]bool)
		for _, f := range res.Findings {
			if seen[f.RuleID] {
				continue
			}
			seen[f.RuleID] = true
			fix := f.Remediation
			if fix == "" {
				fix = r.catalog[f.RuleID].Remediation
			}
			if fix != "" {
				md.Details(f.RuleID+" remediation", fix)
			}
		}
		md.PlainText("")
	}

	if !wrote {
		md.PlainText("No findings.")
		md.PlainText("")
	}
}

// writeProblems lists units that were not fully analyzed.
func (r *MarkdownReporter) writeProblems(md *markdown.Markdown, results []core.ScanResult) {
	var items []string
	for _, res := range results {
		if res.Status != core.StatusOK {
			items = append(items, fmt.Sprintf("`%s`: %s", res.UnitID, statusText(res)))
		}
		for _, fault := range res.Faults {
			items = append(items, fmt.Sprintf("`%s`: rule %s faulted: %s", res.UnitID, fault.RuleID, fault.Reason))
		}
	}
	if len(items) == 0 {
		return
	}
	md.H2("Incomplete analysis")
	md.PlainText("")
	md.BulletList(items...)
	md.PlainText("")
}

func (r *MarkdownReporter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	if r.version != "" {
		md.PlainTextf("*Generated by [%s](%s) %s*", ToolName, ToolInfoURI, r.version)
		return
	}
	md.PlainTextf("*Generated by [%s](%s)*", ToolName, ToolInfoURI)
}

// escapeCell keeps pipes and newlines from breaking a table row.
func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

func codeCell(snippet string) string {
	if snippet == "" {
		return "-"
	}
	return "`" + escapeCell(strings.ReplaceAll(truncateString(snippet, 60), "`", "'")) + "`"
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
