// File: internal/analysis/core/definitions.go
package core

import (
	"fmt"
	"strings"
)

// -- Severity Definitions --

// Severity ranks how dangerous a finding is. The zero value is SeverityUnknown so that
// an unset severity never passes a minimum-severity filter by accident.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityUnknown:  "unknown",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the lowercase name used in reports, config files and the database.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name (case-insensitive).
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a name such as "High" or "critical" into a Severity.
// An empty string parses to SeverityUnknown, which filters nothing.
func ParseSeverity(name string) (Severity, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return SeverityUnknown, nil
	}
	for sev, n := range severityNames {
		if n == normalized {
			return sev, nil
		}
	}
	return SeverityUnknown, fmt.Errorf("unknown severity %q (expected low, medium, high or critical)", name)
}

// -- Confidence and Status Definitions --

// Confidence states how much the scanner trusts a finding.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow marks findings produced from a degraded (partially parsed) unit.
	ConfidenceLow Confidence = "low"
)

// Status is the per-unit outcome of a scan.
type Status string

const (
	StatusOK           Status = "ok"
	StatusDegraded     Status = "degraded"
	StatusInvalidInput Status = "invalid_input"
	StatusCanceled     Status = "canceled"
)
