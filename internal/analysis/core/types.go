package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the scanner, engine and outer layers.
var (
	// ErrInvalidInput means a unit's text was absent or could not be decoded as text.
	// The scan aborts for that unit only.
	ErrInvalidInput = errors.New("invalid input")
	// ErrScanDegraded means part of the unit could not be parsed and fell back to Other nodes.
	// Findings are still returned, with low confidence.
	ErrScanDegraded = errors.New("scan degraded")
)

// Span is a half-open byte range [Start, End) into a unit's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether other lies entirely within s.
func (s Span) Contains(other Span) bool {
	return other.Start >= s.Start && other.End <= s.End
}

func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Start, s.End) }

// Location is the human-facing position of a span, derived from the unit's line index.
// Lines are 1-based, columns are 0-based byte offsets within the line.
type Location struct {
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
	Snippet   string `json:"snippet,omitempty"`
}

// Finding is a single rule match. It is a value type: rules create it, the aggregator
// orders it, and nothing mutates a finding after it has been returned.
type Finding struct {
	RuleID      string     `json:"ruleId"`
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	Span        Span       `json:"span"`
	Remediation string     `json:"remediation,omitempty"`
	Confidence  Confidence `json:"confidence"`
	Location    Location   `json:"location"`
}

// WithConfidence returns a copy of f carrying the given confidence.
func (f Finding) WithConfidence(c Confidence) Finding {
	f.Confidence = c
	return f
}

// WithLocation returns a copy of f carrying the given location.
func (f Finding) WithLocation(loc Location) Finding {
	f.Location = loc
	return f
}

// RuleFault records a rule that panicked while matching a node. Faults carry no findings.
type RuleFault struct {
	RuleID string `json:"ruleId"`
	Span   Span   `json:"span"`
	Reason string `json:"reason"`
}

func (f RuleFault) Error() string {
	return fmt.Sprintf("rule %s faulted at %s: %s", f.RuleID, f.Span, f.Reason)
}

// ScanResult is the ordered outcome of scanning one source unit.
type ScanResult struct {
	UnitID   string      `json:"unitId"`
	Status   Status      `json:"status"`
	Findings []Finding   `json:"findings"`
	Faults   []RuleFault `json:"faults,omitempty"`
	// Err is set for invalid and canceled units, and wraps ErrScanDegraded for degraded ones.
	Err error `json:"-"`
}

// Failed reports whether the unit produced no analysis at all.
func (r ScanResult) Failed() bool {
	return r.Status == StatusInvalidInput || r.Status == StatusCanceled
}

// Highest returns the most severe finding severity in the result.
func (r ScanResult) Highest() Severity {
	highest := SeverityUnknown
	for _, f := range r.Findings {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}
