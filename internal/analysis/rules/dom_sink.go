package rules

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// DomSinkRule flags markup sinks (innerHTML, outerHTML) assigned a value that is not
// provably constant.
type DomSinkRule struct {
	baseRule
}

// NewDomSinkRule creates the rule.
func NewDomSinkRule() *DomSinkRule {
	return &DomSinkRule{baseRule{meta: Metadata{
		ID:          "DomSinkRule",
		Name:        "Unsanitized DOM insertion",
		Description: "Assigning a non-constant value to innerHTML or outerHTML parses it as markup and can execute injected script.",
		Severity:    core.SeverityHigh,
		Remediation: "Use textContent or document.createTextNode for text, or pass the value through a vetted HTML sanitizer before assigning it.",
		CWE:         "CWE-79",
	}}}
}

// Match implements Rule.
func (r *DomSinkRule) Match(node *javascript.Node) []core.Finding {
	sink, value, ok := htmlSinkAssignment(node)
	if !ok || javascript.IsConstant(value) {
		return nil
	}
	return one(r.finding(node, core.SeverityHigh,
		fmt.Sprintf("Non-constant value assigned to %s is parsed as HTML", sink.Name)))
}

// htmlSinkAssignment matches obj.innerHTML = value (dot or string-indexed form) and
// returns the sink and the assigned value. An assignment without a value never matches.
func htmlSinkAssignment(node *javascript.Node) (javascript.SinkDefinition, *javascript.Node, bool) {
	if node == nil || node.Kind != javascript.KindMemberAssignment {
		return javascript.SinkDefinition{}, nil, false
	}
	target := node.ChildByField(javascript.FieldTarget)
	sink, ok := javascript.CheckIfHTMLSinkProperty(javascript.PropertyName(target))
	if !ok {
		return javascript.SinkDefinition{}, nil, false
	}
	value := node.ChildByField(javascript.FieldValue)
	if value == nil {
		return javascript.SinkDefinition{}, nil, false
	}
	return sink, value, true
}
