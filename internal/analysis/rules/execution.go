package rules

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// DocumentWriteRule flags document.write and document.writeln called with markup that
// is not provably constant.
type DocumentWriteRule struct {
	baseRule
}

// NewDocumentWriteRule creates the rule.
func NewDocumentWriteRule() *DocumentWriteRule {
	return &DocumentWriteRule{baseRule{meta: Metadata{
		ID:          "DocumentWriteRule",
		Name:        "document.write with dynamic content",
		Description: "document.write parses its argument as HTML in the current document.",
		Severity:    core.SeverityHigh,
		Remediation: "Build nodes with document.createElement and set textContent instead of writing markup.",
		CWE:         "CWE-79",
	}}}
}

// Match implements Rule.
func (r *DocumentWriteRule) Match(node *javascript.Node) []core.Finding {
	def, ok := sinkCall(node)
	if !ok || def.Name != "document.write" {
		return nil
	}
	for _, arg := range def.SensitiveArgs(javascript.Arguments(node)) {
		if !javascript.IsConstant(arg) {
			return one(r.finding(node, core.SeverityHigh, "document.write() is called with non-constant markup"))
		}
	}
	return nil
}

// StringTimerRule flags setTimeout and setInterval given a string, which the browser
// evaluates like eval.
type StringTimerRule struct {
	baseRule
}

// NewStringTimerRule creates the rule.
func NewStringTimerRule() *StringTimerRule {
	return &StringTimerRule{baseRule{meta: Metadata{
		ID:          "StringTimerRule",
		Name:        "Timer with string callback",
		Description: "setTimeout and setInterval compile a string first argument as code.",
		Severity:    core.SeverityHigh,
		Remediation: "Pass a function instead of a string: setTimeout(() => work(), delay).",
		CWE:         "CWE-95",
	}}}
}

// Match implements Rule.
func (r *StringTimerRule) Match(node *javascript.Node) []core.Finding {
	def, ok := sinkCall(node)
	if !ok || (def.Name != "setTimeout" && def.Name != "setInterval") {
		return nil
	}
	args := def.SensitiveArgs(javascript.Arguments(node))
	if len(args) == 0 || !stringy(args[0]) {
		return nil
	}
	return one(r.finding(node, core.SeverityHigh,
		fmt.Sprintf("%s() is given a string that will be evaluated as code", def.Name)))
}

// stringy reports whether v is a string literal or a concatenation involving one.
func stringy(v *javascript.Node) bool {
	switch v.Kind {
	case javascript.KindStringLiteral:
		return true
	case javascript.KindExpression:
		if !javascript.HasOperator(v, "+") {
			return false
		}
		for _, c := range v.Structural() {
			if c.Kind == javascript.KindStringLiteral {
				return true
			}
		}
	}
	return false
}

// FunctionConstructorRule flags the Function constructor, with or without new.
type FunctionConstructorRule struct {
	baseRule
}

// NewFunctionConstructorRule creates the rule.
func NewFunctionConstructorRule() *FunctionConstructorRule {
	return &FunctionConstructorRule{baseRule{meta: Metadata{
		ID:          "FunctionConstructorRule",
		Name:        "Function constructor",
		Description: "new Function(...) compiles its string arguments into a function body, like eval.",
		Severity:    core.SeverityHigh,
		Remediation: "Replace generated functions with ordinary closures or an explicit dispatch table.",
		CWE:         "CWE-95",
	}}}
}

// Match implements Rule.
func (r *FunctionConstructorRule) Match(node *javascript.Node) []core.Finding {
	def, ok := sinkCall(node)
	if !ok || def.Name != "Function" {
		return nil
	}
	return one(r.finding(node, core.SeverityHigh, "The Function constructor compiles strings into code"))
}
