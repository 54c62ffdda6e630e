// Package rules holds the detection rules offered every node of a scanned unit.
package rules

import (
	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// Metadata describes a rule for listings and reports.
type Metadata struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Severity    core.Severity `json:"severity"`
	Remediation string        `json:"remediation"`
	CWE         string        `json:"cwe,omitempty"`
}

// Rule is the contract every detection rule implements. Rules are stateless after
// construction and may be shared by concurrent scans.
type Rule interface {
	ID() string
	Metadata() Metadata
	// Match inspects a single node and returns the findings it triggers. Missing
	// optional parts of the node mean the condition is not met, never an error.
	Match(node *javascript.Node) []core.Finding
}

// baseRule provides the identity half of the Rule interface. It is embedded by the
// concrete rules.
type baseRule struct {
	meta Metadata
}

// ID returns the rule identifier.
func (b *baseRule) ID() string {
	return b.meta.ID
}

// Metadata returns the rule description.
func (b *baseRule) Metadata() Metadata {
	return b.meta
}

// finding builds a finding spanning node.
func (b *baseRule) finding(node *javascript.Node, severity core.Severity, message string) core.Finding {
	return core.Finding{
		RuleID:      b.meta.ID,
		Severity:    severity,
		Message:     message,
		Span:        node.Span,
		Remediation: b.meta.Remediation,
		Confidence:  core.ConfidenceHigh,
	}
}

// one wraps a single finding in a slice.
func one(f core.Finding) []core.Finding {
	return []core.Finding{f}
}
