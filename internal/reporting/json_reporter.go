// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/findings"
)

// JSONReport is the document written by the json format.
type JSONReport struct {
	Tool    string      `json:"tool"`
	Version string      `json:"version,omitempty"`
	Summary JSONSummary `json:"summary"`
	Units   []JSONUnit  `json:"units"`
}

// JSONSummary mirrors findings.Summary with severity names as keys.
type JSONSummary struct {
	Units      int            `json:"units"`
	Failed     int            `json:"failed"`
	Degraded   int            `json:"degraded"`
	Findings   int            `json:"findings"`
	Faults     int            `json:"faults"`
	BySeverity map[string]int `json:"bySeverity"`
}

// JSONUnit is one scanned unit. Error carries the text of ScanResult.Err.
type JSONUnit struct {
	UnitID   string           `json:"unitId"`
	Status   core.Status      `json:"status"`
	Error    string           `json:"error,omitempty"`
	Findings []core.Finding   `json:"findings"`
	Faults   []core.RuleFault `json:"faults,omitempty"`
}

// JSONReporter writes one JSON document on Close.
type JSONReporter struct {
	collector
	writer  io.WriteCloser
	version string
}

// NewJSONReporter creates a reporter that writes a JSON document.
func NewJSONReporter(writer io.WriteCloser, opts Options) *JSONReporter {
	return &JSONReporter{writer: writer, version: opts.ToolVersion}
}

// Write buffers the result of one unit.
func (r *JSONReporter) Write(result core.ScanResult) error {
	return r.add(result)
}

// Close encodes the buffered results and closes the writer.
func (r *JSONReporter) Close() error {
	results, err := r.drain()
	if err != nil {
		return err
	}
	doc := NewJSONReport(results, r.version)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return finish(r.writer, fmt.Errorf("failed to encode JSON output: %w", err))
	}
	return finish(r.writer, nil)
}

// NewJSONReport builds the document for results.
func NewJSONReport(results []core.ScanResult, version string) JSONReport {
	s := findings.Summarize(results)
	doc := JSONReport{
		Tool:    ToolName,
		Version: version,
		Summary: JSONSummary{
			Units:      s.Units,
			Failed:     s.Failed,
			Degraded:   s.Degraded,
			Findings:   s.Total,
			Faults:     s.Faults,
			BySeverity: make(map[string]int, len(s.Counts)),
		},
		Units: make([]JSONUnit, 0, len(results)),
	}
	for sev, n := range s.Counts {
		doc.Summary.BySeverity[sev.String()] = n
	}
	for _, res := range results {
		unit := JSONUnit{
			UnitID:   res.UnitID,
			Status:   res.Status,
			Findings: res.Findings,
			Faults:   res.Faults,
		}
		if unit.Findings == nil {
			unit.Findings = []core.Finding{}
		}
		if res.Err != nil {
			unit.Error = res.Err.Error()
		}
		doc.Units = append(doc.Units, unit)
	}
	return doc
}
