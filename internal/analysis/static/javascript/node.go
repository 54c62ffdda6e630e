// Filename: javascript/node.go
package javascript

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
)

// Kind tags a syntax node.
type Kind int

const (
	KindOther Kind = iota
	KindProgram
	KindBlock
	KindFunction
	KindIf
	KindForInLoop
	KindDeclaration
	KindAssignment
	KindMemberAssignment
	KindCallExpression
	KindPropertyAccess
	KindIdentifier
	KindStringLiteral
	KindLiteral
	KindObjectLiteral
	KindExpression
)

var kindNames = [...]string{
	KindOther:            "Other",
	KindProgram:          "Program",
	KindBlock:            "Block",
	KindFunction:         "Function",
	KindIf:               "If",
	KindForInLoop:        "ForInLoop",
	KindDeclaration:      "Declaration",
	KindAssignment:       "Assignment",
	KindMemberAssignment: "MemberAssignment",
	KindCallExpression:   "CallExpression",
	KindPropertyAccess:   "PropertyAccess",
	KindIdentifier:       "Identifier",
	KindStringLiteral:    "StringLiteral",
	KindLiteral:          "Literal",
	KindObjectLiteral:    "ObjectLiteral",
	KindExpression:       "Expression",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Field names describing the role a child plays in its parent.
const (
	FieldCallee   = "callee"
	FieldArgument = "argument"
	FieldObject   = "object"
	FieldProperty = "property"
	FieldIndex    = "index"
	FieldTarget   = "target"
	FieldValue    = "value"
	FieldName     = "name"
	FieldParam    = "param"
	FieldCond     = "cond"
	FieldBody     = "body"
	FieldElse     = "else"
	FieldLeft     = "left"
	FieldRight    = "right"

	FieldSubstitution = "substitution"
)

// Node is one element of the syntax tree. Children are ordered by position and, for
// every non-leaf node, tile the parent's span exactly.
type Node struct {
	Kind  Kind
	Span  core.Span
	Field string

	// Name is the identifier text (Identifier), the property name (PropertyAccess,
	// when static), the function name (Function), the bound name (Declaration,
	// ForInLoop) or the unquoted value (StringLiteral without substitutions).
	Name string
	// Params lists the simple parameter names of a Function.
	Params []string
	// Operator is the assignment operator (Assignment, MemberAssignment) or the
	// declaration keyword (Declaration).
	Operator string
	// Operators lists the operators of an Expression chain in source order.
	Operators []string
	// Computed marks a bracketed PropertyAccess.
	Computed bool
	// New marks a CallExpression written with the new operator.
	New bool
	// Template marks a StringLiteral written as a template literal; Refs lists the
	// identifiers referenced inside its substitutions, which are parsed as children.
	Template bool
	Refs     []string

	Children []*Node
	parent   *Node

	// grouped marks a parenthesized Expression.
	grouped bool
	// opaque marks a template whose substitutions were not fully converted.
	opaque bool
}

func newNode(kind Kind, start, end int) *Node {
	return &Node{Kind: kind, Span: core.Span{Start: start, End: end}}
}

// Parent returns the enclosing node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Interpolated reports whether a template literal contains substitutions.
func (n *Node) Interpolated() bool { return n.Template && (len(n.Refs) > 0 || n.opaque) }

// ChildByField returns the first child carrying the given field, or nil.
func (n *Node) ChildByField(field string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// ChildrenByField returns every child carrying the given field.
func (n *Node) ChildrenByField(field string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

// Structural returns the children that are not Other gap nodes.
func (n *Node) Structural() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Kind != KindOther {
			out = append(out, c)
		}
	}
	return out
}

// Walk visits n and its descendants depth-first in pre-order. Returning false from
// visit skips the children of that node.
func (n *Node) Walk(visit func(*Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// EnclosingFunction returns the nearest Function ancestor, or the Program root when
// the node is not inside a function.
func (n *Node) EnclosingFunction() *Node {
	for p := n.parent; p != nil; p = p.parent {
		if p.Kind == KindFunction || p.Kind == KindProgram {
			return p
		}
	}
	return nil
}

// Frontier returns the nodes at the given depth, with leaves above that depth carried
// down. Depth 0 is the node itself.
func (n *Node) Frontier(depth int) []*Node {
	if depth == 0 || n.IsLeaf() {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.Frontier(depth-1)...)
	}
	return out
}

// Height returns the number of levels below n.
func (n *Node) Height() int {
	h := 0
	for _, c := range n.Children {
		if ch := c.Height() + 1; ch > h {
			h = ch
		}
	}
	return h
}

func (n *Node) String() string {
	if n.Name != "" {
		return fmt.Sprintf("%s(%q)%s", n.Kind, n.Name, n.Span)
	}
	return fmt.Sprintf("%s%s", n.Kind, n.Span)
}
