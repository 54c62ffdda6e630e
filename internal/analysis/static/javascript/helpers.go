// Filename: javascript/helpers.go
package javascript

import "strings"

// Path flattens a chain of property accesses into its segments
// (window.location.hash or obj['prop'] -> ["window", "location", "hash"] or ["obj", "prop"]).
// A computed access with a non-literal index cannot be flattened and yields nil.
func Path(n *Node) []string {
	var path []string
	current := n

	for current != nil {
		switch current.Kind {
		case KindIdentifier:
			return append([]string{current.Name}, path...)
		case KindPropertyAccess:
			if current.Name == "" {
				return nil
			}
			path = append([]string{current.Name}, path...)
			current = current.ChildByField(FieldObject)
		default:
			// Not a simple property access chain (call result, literal, group).
			return nil
		}
	}
	return nil
}

// Unwrap strips grouping parentheses and comma sequences down to the expression that
// supplies the value: ((0, eval)) -> eval.
func Unwrap(n *Node) *Node {
	for n != nil && n.Kind == KindExpression {
		if !n.grouped && !commaOnly(n.Operators) {
			return n
		}
		operands := n.Structural()
		if len(operands) == 0 {
			return n
		}
		n = operands[len(operands)-1]
	}
	return n
}

func commaOnly(ops []string) bool {
	if len(ops) == 0 {
		return false
	}
	for _, op := range ops {
		if op != "," {
			return false
		}
	}
	return true
}

// PathString is Path joined with dots, or "" when the chain cannot be flattened.
func PathString(n *Node) string {
	return strings.Join(Path(n), ".")
}

// RootIdentifier returns the identifier at the base of a property access chain,
// following computed accesses as well (target[key].x -> target).
func RootIdentifier(n *Node) *Node {
	for current := n; current != nil; {
		switch current.Kind {
		case KindIdentifier:
			return current
		case KindPropertyAccess:
			current = current.ChildByField(FieldObject)
		default:
			return nil
		}
	}
	return nil
}

// PropertyName returns the static property name of an access: the identifier after a
// dot or a constant string index. Computed accesses by variable return "".
func PropertyName(n *Node) string {
	if n == nil || n.Kind != KindPropertyAccess {
		return ""
	}
	return n.Name
}

// IndexIdentifier returns the identifier used as the index of a computed access
// (obj[key] -> key), or nil.
func IndexIdentifier(n *Node) *Node {
	if n == nil || n.Kind != KindPropertyAccess || !n.Computed {
		return nil
	}
	idx := n.ChildByField(FieldIndex)
	if idx == nil || idx.Kind != KindIdentifier {
		return nil
	}
	return idx
}

// Arguments returns the argument nodes of a call.
func Arguments(call *Node) []*Node {
	return call.ChildrenByField(FieldArgument)
}

// IsConstant reports whether a value is provably constant: a literal, a string without
// substitutions, or a compound whose operands are all constant.
func IsConstant(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case KindLiteral:
		return true
	case KindStringLiteral:
		return !n.Interpolated()
	case KindExpression:
		for _, c := range n.Structural() {
			if !IsConstant(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// HasOperator reports whether an Expression chain contains op.
func HasOperator(n *Node, op string) bool {
	if n == nil || n.Kind != KindExpression {
		return false
	}
	for _, o := range n.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// InsideFunctionOf reports whether n lies below a Function node that is itself
// below scope. Used to keep name-based flow inside one function body.
func InsideFunctionOf(n, scope *Node) bool {
	for p := n.parent; p != nil && p != scope; p = p.parent {
		if p.Kind == KindFunction {
			return true
		}
	}
	return false
}
