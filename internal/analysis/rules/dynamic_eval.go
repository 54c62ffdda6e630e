package rules

import (
	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// DynamicEvalRule flags every call to the global eval, whatever its arguments. Indirect
// calls such as (0, eval)(code) are included.
type DynamicEvalRule struct {
	baseRule
}

// NewDynamicEvalRule creates the rule.
func NewDynamicEvalRule() *DynamicEvalRule {
	return &DynamicEvalRule{baseRule{meta: Metadata{
		ID:          "DynamicEvalRule",
		Name:        "Dynamic code evaluation",
		Description: "eval() compiles and runs its argument as code; any attacker influence over the argument is remote code execution.",
		Severity:    core.SeverityCritical,
		Remediation: "Remove eval(). Parse data with JSON.parse and dispatch behaviour through explicit lookups instead of generated code.",
		CWE:         "CWE-95",
	}}}
}

// Match implements Rule.
func (r *DynamicEvalRule) Match(node *javascript.Node) []core.Finding {
	def, ok := sinkCall(node)
	if !ok || def.Name != "eval" || node.New {
		return nil
	}
	return one(r.finding(node, core.SeverityCritical, "Call to eval() executes dynamically built code"))
}

// sinkCall resolves the callee of a call against the known sink functions, looking
// through grouping and comma sequences.
func sinkCall(node *javascript.Node) (javascript.SinkDefinition, bool) {
	if node == nil || node.Kind != javascript.KindCallExpression {
		return javascript.SinkDefinition{}, false
	}
	callee := javascript.Unwrap(node.ChildByField(javascript.FieldCallee))
	return javascript.CheckIfSinkFunction(javascript.Path(callee))
}
