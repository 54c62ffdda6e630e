package rules

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// PrototypePollutionRule flags target[key] = source[key] inside a for-in loop over key
// when nothing in the loop checks that key is an own property first.
type PrototypePollutionRule struct {
	baseRule
}

// NewPrototypePollutionRule creates the rule.
func NewPrototypePollutionRule() *PrototypePollutionRule {
	return &PrototypePollutionRule{baseRule{meta: Metadata{
		ID:          "PrototypePollutionRule",
		Name:        "Prototype pollution via unchecked property copy",
		Description: "Copying every enumerable key of an object without an ownership check lets keys such as __proto__ write into Object.prototype.",
		Severity:    core.SeverityMedium,
		Remediation: "Guard the copy with Object.hasOwn(source, key) and reject __proto__, constructor and prototype, or build the target with Object.create(null).",
		CWE:         "CWE-1321",
	}}}
}

// Match implements Rule.
func (r *PrototypePollutionRule) Match(node *javascript.Node) []core.Finding {
	if node == nil || node.Kind != javascript.KindMemberAssignment || node.Operator != "=" {
		return nil
	}
	target := node.ChildByField(javascript.FieldTarget)
	key := javascript.IndexIdentifier(target)
	if key == nil {
		return nil
	}
	srcKey := javascript.IndexIdentifier(node.ChildByField(javascript.FieldValue))
	if srcKey == nil || srcKey.Name != key.Name {
		return nil
	}

	loop := enclosingForIn(node, key.Name)
	if loop == nil || guarded(loop, node) {
		return nil
	}

	severity := core.SeverityMedium
	root := javascript.RootIdentifier(target)
	if root != nil && reachableFromParam(root.Name, node) {
		severity = core.SeverityHigh
	}
	into := javascript.PathString(target.ChildByField(javascript.FieldObject))
	if into == "" {
		into = "an object"
	}
	return one(r.finding(node, severity, fmt.Sprintf(
		"Keys of a for-in loop over %q are copied into %s without an ownership check", key.Name, into)))
}

// enclosingForIn returns the nearest for-in loop binding key whose body contains node,
// without leaving the current function.
func enclosingForIn(node *javascript.Node, key string) *javascript.Node {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind {
		case javascript.KindFunction, javascript.KindProgram:
			return nil
		case javascript.KindForInLoop:
			body := p.ChildByField(javascript.FieldBody)
			if p.Name == key && body != nil && body.Span.Contains(node.Span) {
				return p
			}
		}
	}
	return nil
}

// guarded reports whether the loop body holds an ownership guard on the loop key that
// starts before the assignment. A guard only counts when its result decides control
// flow: it sits in a condition or in a short-circuit chain.
func guarded(loop, assign *javascript.Node) bool {
	body := loop.ChildByField(javascript.FieldBody)
	key := loop.Name
	found := false
	body.Walk(func(n *javascript.Node) bool {
		if found || n.Span.Start >= assign.Span.Start {
			return false
		}
		if n.Kind == javascript.KindFunction {
			return false
		}
		switch n.Kind {
		case javascript.KindCallExpression:
			found = isOwnershipCall(n) && ownershipOf(n, key) && decision(n, body) != nil
		case javascript.KindExpression:
			found = isMembershipTest(n, key) && decision(n, body) != nil
		case javascript.KindStringLiteral:
			if javascript.IsDangerousKey(n.Name) {
				test := decision(n, body)
				found = test != nil && mentions(test, key)
			}
		}
		return !found
	})
	return found
}

// isOwnershipCall matches key-ownership calls in any of their usual spellings:
// src.hasOwnProperty(k), Object.hasOwn(src, k), Object.prototype.hasOwnProperty.call(src, k).
func isOwnershipCall(call *javascript.Node) bool {
	callee := call.ChildByField(javascript.FieldCallee)
	for cur := callee; cur != nil && cur.Kind == javascript.KindPropertyAccess; cur = cur.ChildByField(javascript.FieldObject) {
		if javascript.IsOwnershipCheck([]string{cur.Name}) {
			return true
		}
	}
	return callee != nil && callee.Kind == javascript.KindIdentifier && javascript.IsOwnershipCheck([]string{callee.Name})
}

// ownershipOf reports whether an ownership call asks about key: key is one of its
// arguments or the receiver the method is called on.
func ownershipOf(call *javascript.Node, key string) bool {
	for _, arg := range javascript.Arguments(call) {
		if id := javascript.Unwrap(arg); id != nil && id.Kind == javascript.KindIdentifier && id.Name == key {
			return true
		}
	}
	callee := call.ChildByField(javascript.FieldCallee)
	if callee == nil || callee.Kind != javascript.KindPropertyAccess {
		return false
	}
	receiver := javascript.RootIdentifier(callee.ChildByField(javascript.FieldObject))
	return receiver != nil && receiver.Name == key
}

// isMembershipTest matches key in obj with the loop key as the left operand.
func isMembershipTest(n *javascript.Node, key string) bool {
	if len(n.Operators) != 1 || n.Operators[0] != "in" {
		return false
	}
	left := javascript.Unwrap(n.ChildByField(javascript.FieldLeft))
	return left != nil && left.Kind == javascript.KindIdentifier && left.Name == key
}

// decision returns the test n takes part in: the condition of an if statement, or an
// operator chain whose value decides whether the rest is evaluated. The search stops at
// the enclosing statement block and never climbs above limit.
func decision(n, limit *javascript.Node) *javascript.Node {
	for cur := n; cur != nil && cur != limit; cur = cur.Parent() {
		if cur.Field == javascript.FieldCond {
			return cur
		}
		switch cur.Kind {
		case javascript.KindBlock, javascript.KindFunction, javascript.KindIf, javascript.KindForInLoop:
			return nil
		case javascript.KindExpression:
			if shortCircuit(cur.Operators) {
				return cur
			}
		}
	}
	return nil
}

func shortCircuit(ops []string) bool {
	for _, op := range ops {
		switch op {
		case "&&", "||", "??", "?":
			return true
		}
	}
	return false
}

// mentions reports whether an identifier named key is read anywhere below n.
func mentions(n *javascript.Node, key string) bool {
	found := false
	n.Walk(func(c *javascript.Node) bool {
		if c.Kind == javascript.KindIdentifier && c.Field != javascript.FieldProperty && c.Name == key {
			found = true
		}
		return !found
	})
	return found
}

// reachableFromParam reports whether name is a parameter of the function enclosing node,
// or a local bound from one before node.
func reachableFromParam(name string, node *javascript.Node) bool {
	fn := node.EnclosingFunction()
	if fn == nil || fn.Kind != javascript.KindFunction || len(fn.Params) == 0 {
		return false
	}
	params := make(map[string]bool, len(fn.Params))
	for _, p := range fn.Params {
		params[p] = true
	}
	if params[name] {
		return true
	}

	bound := false
	fn.Walk(func(n *javascript.Node) bool {
		if n.Span.Start >= node.Span.Start {
			return false
		}
		if n != fn && n.Kind == javascript.KindFunction {
			return false
		}
		var value *javascript.Node
		switch n.Kind {
		case javascript.KindDeclaration:
			if n.Name == name {
				value = n.ChildByField(javascript.FieldValue)
			}
		case javascript.KindAssignment:
			if t := n.ChildByField(javascript.FieldTarget); t != nil && t.Kind == javascript.KindIdentifier && t.Name == name {
				value = n.ChildByField(javascript.FieldValue)
			}
		}
		if value != nil {
			// A later rebinding wins: target = {} after target = dst is fresh again.
			bound = false
			for _, root := range valueRoots(value) {
				if params[root] {
					bound = true
				}
			}
		}
		return true
	})
	return bound
}

// valueRoots lists the identifiers a value is read from: the root of an access chain, or
// the roots of each operand of a compound such as dst || {}.
func valueRoots(v *javascript.Node) []string {
	switch v.Kind {
	case javascript.KindIdentifier, javascript.KindPropertyAccess:
		if root := javascript.RootIdentifier(v); root != nil {
			return []string{root.Name}
		}
	case javascript.KindExpression:
		var out []string
		for _, c := range v.Structural() {
			out = append(out, valueRoots(c)...)
		}
		return out
	}
	return nil
}
