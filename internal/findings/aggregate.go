// Package findings collects the raw matches of one unit into an ordered, de-duplicated
// ScanResult.
package findings

import (
	"sort"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/source"
)

// key identifies exact duplicates: the same rule firing on the same span.
type key struct {
	ruleID string
	span   core.Span
}

// Aggregate removes exact duplicates (first occurrence kept) and orders the findings by
// span start, then rule id. Span end and message break the remaining ties so the order
// never depends on the order the rules ran in. Findings from different rules are never
// merged. The input slice is not modified.
func Aggregate(unitID string, fs []core.Finding) core.ScanResult {
	seen := make(map[key]struct{}, len(fs))
	out := make([]core.Finding, 0, len(fs))
	for _, f := range fs {
		k := key{ruleID: f.RuleID, span: f.Span}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	Sort(out)
	return core.ScanResult{UnitID: unitID, Status: core.StatusOK, Findings: out}
}

// Sort orders findings in place by span start, rule id, span end and message.
func Sort(fs []core.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		return a.Message < b.Message
	})
}

// Filter returns a copy of result without the findings below min. Order is kept.
func Filter(result core.ScanResult, min core.Severity) core.ScanResult {
	if min <= core.SeverityUnknown {
		return result
	}
	kept := make([]core.Finding, 0, len(result.Findings))
	for _, f := range result.Findings {
		if f.Severity.AtLeast(min) {
			kept = append(kept, f)
		}
	}
	result.Findings = kept
	return result
}

// Locate returns a copy of result whose findings carry line, column and snippet
// information resolved against unit.
func Locate(result core.ScanResult, unit *source.Unit) core.ScanResult {
	located := make([]core.Finding, len(result.Findings))
	for i, f := range result.Findings {
		located[i] = f.WithLocation(unit.Locate(f.Span))
	}
	result.Findings = located
	return result
}

// Summary counts findings per severity across results.
type Summary struct {
	Units    int
	Failed   int
	Degraded int
	Total    int
	Faults   int
	Counts   map[core.Severity]int
}

// Summarize builds a Summary over results.
func Summarize(results []core.ScanResult) Summary {
	s := Summary{Units: len(results), Counts: make(map[core.Severity]int)}
	for _, r := range results {
		switch {
		case r.Failed():
			s.Failed++
		case r.Status == core.StatusDegraded:
			s.Degraded++
		}
		s.Faults += len(r.Faults)
		for _, f := range r.Findings {
			s.Counts[f.Severity]++
			s.Total++
		}
	}
	return s
}

// AtLeast counts findings at or above min.
func (s Summary) AtLeast(min core.Severity) int {
	n := 0
	for sev, c := range s.Counts {
		if sev.AtLeast(min) {
			n += c
		}
	}
	return n
}
