package rules

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// URLParamSinkRule flags markup sinks that receive a URL or query parameter value
// through local, name-based flow within one function body.
type URLParamSinkRule struct {
	baseRule
	sanitizers javascript.SanitizerSet
}

// NewURLParamSinkRule creates the rule. Calls matching sanitizers break the flow.
func NewURLParamSinkRule(sanitizers javascript.SanitizerSet) *URLParamSinkRule {
	return &URLParamSinkRule{
		baseRule: baseRule{meta: Metadata{
			ID:          "UrlParamSinkRule",
			Name:        "URL parameter reaches DOM sink",
			Description: "A value read from the page URL is written into innerHTML or outerHTML, so anyone who can craft a link can inject markup.",
			Severity:    core.SeverityHigh,
			Remediation: "Render URL-derived values with textContent, or sanitize them before they reach the markup sink.",
			CWE:         "CWE-79",
		}},
		sanitizers: sanitizers,
	}
}

// binding is what is known about a local name at a given point of a function body.
type binding struct {
	// source is the URL API the value was read from, empty when clean.
	source javascript.TaintSource
	// params marks names holding a parameter collection such as new URLSearchParams(...).
	params bool
}

type env map[string]binding

// Match implements Rule.
func (r *URLParamSinkRule) Match(node *javascript.Node) []core.Finding {
	sink, value, ok := htmlSinkAssignment(node)
	if !ok {
		return nil
	}
	scope := node.EnclosingFunction()
	if scope == nil {
		return nil
	}
	names := r.bindingsBefore(scope, node)
	source := r.source(value, names)
	if source == "" {
		return nil
	}
	return one(r.finding(node, core.SeverityHigh,
		fmt.Sprintf("URL data from %s flows into %s without sanitization", source, sink.Name)))
}

// bindingsBefore replays the declarations and assignments of scope that complete before
// stop, in source order. Nested functions are separate scopes and are skipped.
func (r *URLParamSinkRule) bindingsBefore(scope, stop *javascript.Node) env {
	names := env{}
	scope.Walk(func(n *javascript.Node) bool {
		if n.Span.Start >= stop.Span.Start {
			return false
		}
		if n != scope && n.Kind == javascript.KindFunction {
			return false
		}
		if n.Span.End > stop.Span.Start {
			// Still open at the sink, e.g. the block holding it.
			return true
		}
		switch n.Kind {
		case javascript.KindDeclaration:
			if n.Name != "" {
				value := n.ChildByField(javascript.FieldValue)
				names[n.Name] = binding{source: r.source(value, names), params: isParamCollection(value, names)}
			}
		case javascript.KindAssignment:
			target := n.ChildByField(javascript.FieldTarget)
			if target == nil || target.Kind != javascript.KindIdentifier {
				break
			}
			value := n.ChildByField(javascript.FieldValue)
			b := binding{source: r.source(value, names), params: isParamCollection(value, names)}
			if n.Operator != "=" {
				// Compound assignment keeps what the name already carried.
				prev := names[target.Name]
				if prev.source != "" {
					b.source = prev.source
				}
				b.params = prev.params
			}
			names[target.Name] = b
		}
		return true
	})
	return names
}

// source returns the URL API whose data v carries given the local bindings, or "" when
// v is clean. The first source found in evaluation order wins.
func (r *URLParamSinkRule) source(v *javascript.Node, names env) javascript.TaintSource {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case javascript.KindIdentifier:
		return names[v.Name].source
	case javascript.KindPropertyAccess:
		if src, ok := javascript.CheckIfURLSource(javascript.Path(v)); ok {
			return src
		}
		return r.source(v.ChildByField(javascript.FieldObject), names)
	case javascript.KindCallExpression:
		callee := v.ChildByField(javascript.FieldCallee)
		if r.sanitizers.Matches(javascript.Path(callee)) {
			return ""
		}
		if isParamAccessor(v, names) {
			return javascript.SourceQueryParameter
		}
		if callee != nil && callee.Kind == javascript.KindPropertyAccess {
			if src := r.source(callee.ChildByField(javascript.FieldObject), names); src != "" {
				return src
			}
		}
		return r.firstSource(javascript.Arguments(v), names)
	case javascript.KindStringLiteral:
		return r.firstSource(v.ChildrenByField(javascript.FieldSubstitution), names)
	case javascript.KindExpression:
		return r.firstSource(v.Structural(), names)
	case javascript.KindAssignment, javascript.KindMemberAssignment:
		return r.source(v.ChildByField(javascript.FieldValue), names)
	default:
		return ""
	}
}

func (r *URLParamSinkRule) firstSource(nodes []*javascript.Node, names env) javascript.TaintSource {
	for _, n := range nodes {
		if src := r.source(n, names); src != "" {
			return src
		}
	}
	return ""
}

// isParamAccessor matches params.get('x') style reads: get/getAll on a parameter
// collection.
func isParamAccessor(call *javascript.Node, names env) bool {
	callee := call.ChildByField(javascript.FieldCallee)
	if callee == nil || callee.Kind != javascript.KindPropertyAccess || !javascript.IsParamAccessorMethod(callee.Name) {
		return false
	}
	object := callee.ChildByField(javascript.FieldObject)
	if object == nil {
		return false
	}
	switch object.Kind {
	case javascript.KindIdentifier:
		return names[object.Name].params || javascript.LooksLikeParamObject(object.Name)
	default:
		return isParamCollection(object, names)
	}
}

// isParamCollection reports whether v evaluates to a parameter collection:
// new URLSearchParams(...), url.searchParams, this.queryParams or a name bound to one.
func isParamCollection(v *javascript.Node, names env) bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case javascript.KindIdentifier:
		return names[v.Name].params
	case javascript.KindPropertyAccess:
		return v.Name == "searchParams" || (v.Name != "" && javascript.LooksLikeParamObject(v.Name))
	case javascript.KindCallExpression:
		return v.New && v.Name == "URLSearchParams"
	default:
		return false
	}
}
