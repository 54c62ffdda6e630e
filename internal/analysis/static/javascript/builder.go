// Filename: javascript/builder.go
// Converts the tree-sitter concrete syntax tree into the Node tree the rules inspect.
// Constructs the rules look at become typed nodes; everything else is either dissolved
// into its converted children or left to Other gap nodes.
package javascript

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// operatorTypes are flattened into a single Expression with their operators listed in
// source order. Membership tests with 'in' keep their own node.
var operatorTypes = map[string]bool{
	"binary_expression":   true,
	"unary_expression":    true,
	"update_expression":   true,
	"ternary_expression":  true,
	"sequence_expression": true,
	"await_expression":    true,
	"yield_expression":    true,
	"spread_element":      true,
}

var functionTypes = map[string]bool{
	"function_declaration":           true,
	"function":                       true,
	"function_expression":            true,
	"generator_function":             true,
	"generator_function_declaration": true,
	"arrow_function":                 true,
	"method_definition":              true,
}

var identifierTypes = map[string]bool{
	"identifier":                            true,
	"property_identifier":                   true,
	"private_property_identifier":           true,
	"shorthand_property_identifier":         true,
	"shorthand_property_identifier_pattern": true,
	"this":                                  true,
	"super":                                 true,
	"undefined":                             true,
}

var literalTypes = map[string]bool{
	"number": true,
	"regex":  true,
	"true":   true,
	"false":  true,
	"null":   true,
}

type builder struct {
	src   []byte
	nodes int

	depth int
	// deepAt is the offset where the nesting limit was first hit, or -1.
	deepAt int
}

func (b *builder) node(kind Kind, n *sitter.Node) *Node {
	b.nodes++
	return newNode(kind, int(n.StartByte()), int(n.EndByte()))
}

func (b *builder) text(n *sitter.Node) string {
	return n.Content(b.src)
}

func (n *Node) add(field string, child *Node) {
	if child == nil {
		return
	}
	child.Field = field
	n.Children = append(n.Children, child)
}

func (n *Node) addAll(field string, children []*Node) {
	for _, c := range children {
		n.add(field, c)
	}
}

// children converts every child of n in order.
func (b *builder) children(n *sitter.Node) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	cursor := sitter.NewTreeCursor(n)
	defer cursor.Close()
	if ok := cursor.GoToFirstChild(); ok {
		for {
			out = append(out, b.build(cursor.CurrentNode())...)
			if ok := cursor.GoToNextSibling(); !ok {
				break
			}
		}
	}
	return out
}

// single converts n and returns the node standing for it when there is exactly one.
func (b *builder) single(n *sitter.Node) *Node {
	if out := b.build(n); len(out) == 1 {
		return out[0]
	}
	return nil
}

// build converts n into the nodes that stand for it: one typed node for a construct
// the rules look at, or the converted children of anything else.
func (b *builder) build(n *sitter.Node) []*Node {
	if n == nil || n.IsNull() || n.IsMissing() {
		return nil
	}
	isError := n.IsError() || n.Type() == "ERROR"
	if !isError && !n.IsNamed() {
		return nil
	}

	if b.depth >= maxNesting {
		if b.deepAt < 0 {
			b.deepAt = int(n.StartByte())
		}
		return []*Node{newNode(KindOther, int(n.StartByte()), int(n.EndByte()))}
	}
	b.depth++
	defer func() { b.depth-- }()

	if isError {
		// Keep what the grammar could still recognise inside the error region.
		other := newNode(KindOther, int(n.StartByte()), int(n.EndByte()))
		other.addAll("", b.children(n))
		return []*Node{other}
	}

	typ := n.Type()
	switch {
	case identifierTypes[typ]:
		return []*Node{b.identifier(n)}
	case literalTypes[typ]:
		return []*Node{b.node(KindLiteral, n)}
	case functionTypes[typ]:
		return []*Node{b.function(n)}
	case operatorTypes[typ]:
		if typ == "binary_expression" && b.operator(n) == "in" {
			return []*Node{b.membership(n)}
		}
		expr := b.node(KindExpression, n)
		b.flatten(expr, n)
		return []*Node{expr}
	}

	switch typ {
	case "comment", "html_comment", "hash_bang_line":
		return nil
	case "statement_block", "class_body":
		block := b.node(KindBlock, n)
		block.addAll("", b.children(n))
		return []*Node{block}
	case "if_statement":
		return []*Node{b.ifStatement(n)}
	case "for_in_statement":
		if !b.isForIn(n) {
			return b.children(n)
		}
		return []*Node{b.forIn(n)}
	case "lexical_declaration", "variable_declaration":
		return b.declarations(n)
	case "assignment_expression", "augmented_assignment_expression":
		return []*Node{b.assignment(n)}
	case "member_expression":
		return []*Node{b.member(n)}
	case "subscript_expression":
		return []*Node{b.subscript(n)}
	case "call_expression":
		return []*Node{b.call(n, n.ChildByFieldName("function"), false)}
	case "new_expression":
		return []*Node{b.call(n, n.ChildByFieldName("constructor"), true)}
	case "string":
		lit := b.node(KindStringLiteral, n)
		lit.Name = unquote(b.text(n))
		return []*Node{lit}
	case "template_string":
		return []*Node{b.template(n)}
	case "parenthesized_expression":
		group := b.node(KindExpression, n)
		group.grouped = true
		group.addAll("", b.children(n))
		return []*Node{group}
	case "array", "array_pattern":
		arr := b.node(KindExpression, n)
		arr.addAll("", b.children(n))
		return []*Node{arr}
	case "object", "object_pattern":
		obj := b.node(KindObjectLiteral, n)
		obj.addAll("", b.children(n))
		return []*Node{obj}
	default:
		return b.children(n)
	}
}

func unquote(raw string) string {
	if len(raw) < 2 {
		return ""
	}
	return raw[1 : len(raw)-1]
}

func (b *builder) identifier(n *sitter.Node) *Node {
	id := b.node(KindIdentifier, n)
	id.Name = b.text(n)
	return id
}

// operator returns the operator of a binary, unary or assignment node: the operator
// field when the grammar sets one, otherwise the first anonymous child.
func (b *builder) operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && !c.IsNamed() {
			return c.Type()
		}
	}
	return ""
}

// flatten appends the operands and operators of an operator chain to expr. Nested
// chains are merged, except 'in' tests and parenthesized groups.
func (b *builder) flatten(expr *Node, n *sitter.Node) {
	cursor := sitter.NewTreeCursor(n)
	defer cursor.Close()
	if ok := cursor.GoToFirstChild(); !ok {
		return
	}
	for {
		c := cursor.CurrentNode()
		switch {
		case c.IsMissing():
		case !c.IsNamed() && !c.IsError():
			expr.Operators = append(expr.Operators, c.Type())
		case operatorTypes[c.Type()] && !(c.Type() == "binary_expression" && b.operator(c) == "in"):
			b.flatten(expr, c)
		default:
			expr.addAll("", b.build(c))
		}
		if ok := cursor.GoToNextSibling(); !ok {
			break
		}
	}
}

// membership builds key in object as an Expression holding exactly the two operands.
func (b *builder) membership(n *sitter.Node) *Node {
	expr := b.node(KindExpression, n)
	expr.Operators = []string{"in"}
	expr.addAll(FieldLeft, b.build(n.ChildByFieldName("left")))
	expr.addAll(FieldRight, b.build(n.ChildByFieldName("right")))
	return expr
}

func (b *builder) ifStatement(n *sitter.Node) *Node {
	out := b.node(KindIf, n)
	if cond := n.ChildByFieldName("condition"); cond != nil {
		if cond.Type() == "parenthesized_expression" {
			out.addAll(FieldCond, b.children(cond))
		} else {
			out.addAll(FieldCond, b.build(cond))
		}
	}
	out.addAll(FieldBody, b.build(n.ChildByFieldName("consequence")))
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		out.addAll(FieldElse, b.children(alt))
	}
	return out
}

// isForIn tells for (k in o) apart from for (v of o), which shares the grammar node.
func (b *builder) isForIn(n *sitter.Node) bool {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type() == "in"
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || c.IsNamed() {
			continue
		}
		switch c.Type() {
		case "in":
			return true
		case "of":
			return false
		}
	}
	return false
}

func (b *builder) forIn(n *sitter.Node) *Node {
	loop := b.node(KindForInLoop, n)
	if left := n.ChildByFieldName("left"); left != nil {
		if left.Type() == "identifier" {
			id := b.identifier(left)
			loop.Name = id.Name
			loop.add(FieldLeft, id)
		} else {
			loop.addAll(FieldLeft, b.build(left))
		}
	}
	loop.addAll(FieldRight, b.build(n.ChildByFieldName("right")))
	loop.addAll(FieldBody, b.build(n.ChildByFieldName("body")))
	return loop
}

// declarations builds one Declaration per declarator of 'const a = x, b = y'. The first
// Declaration also covers the keyword.
func (b *builder) declarations(n *sitter.Node) []*Node {
	keyword := ""
	if kind := n.ChildByFieldName("kind"); kind != nil {
		keyword = kind.Type()
	} else if first := n.Child(0); first != nil && !first.IsNamed() {
		keyword = first.Type()
	}

	var out []*Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		declarator := n.NamedChild(i)
		if declarator == nil || declarator.Type() != "variable_declarator" {
			continue
		}
		d := b.node(KindDeclaration, declarator)
		if len(out) == 0 {
			d.Span.Start = int(n.StartByte())
		}
		d.Operator = keyword

		if name := declarator.ChildByFieldName("name"); name != nil {
			if name.Type() == "identifier" {
				id := b.identifier(name)
				d.Name = id.Name
				d.add(FieldName, id)
			} else {
				d.addAll(FieldName, b.build(name))
			}
		}
		d.addAll(FieldValue, b.build(declarator.ChildByFieldName("value")))
		out = append(out, d)
	}
	return out
}

func (b *builder) function(n *sitter.Node) *Node {
	fn := b.node(KindFunction, n)
	if name := n.ChildByFieldName("name"); name != nil && identifierTypes[name.Type()] {
		id := b.identifier(name)
		fn.Name = id.Name
		fn.add(FieldName, id)
	}
	if param := n.ChildByFieldName("parameter"); param != nil {
		b.param(fn, param)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			b.param(fn, params.NamedChild(i))
		}
	}
	fn.addAll(FieldBody, b.build(n.ChildByFieldName("body")))
	return fn
}

// param records a simple parameter name: a plain identifier, one with a default value,
// or a rest parameter. Destructured parameters are left to gap nodes.
func (b *builder) param(fn *Node, p *sitter.Node) {
	if p == nil {
		return
	}
	switch p.Type() {
	case "assignment_pattern":
		p = p.ChildByFieldName("left")
	case "rest_pattern":
		p = p.NamedChild(0)
	}
	if p == nil || p.Type() != "identifier" {
		return
	}
	id := b.identifier(p)
	fn.Params = append(fn.Params, id.Name)
	fn.add(FieldParam, id)
}

func (b *builder) assignment(n *sitter.Node) *Node {
	target := b.single(n.ChildByFieldName("left"))
	kind := KindAssignment
	if target != nil && target.Kind == KindPropertyAccess {
		kind = KindMemberAssignment
	}
	out := b.node(kind, n)
	out.Operator = "="
	if n.Type() == "augmented_assignment_expression" {
		out.Operator = b.operator(n)
	}
	out.add(FieldTarget, target)
	out.addAll(FieldValue, b.build(n.ChildByFieldName("right")))
	return out
}

func (b *builder) member(n *sitter.Node) *Node {
	access := b.node(KindPropertyAccess, n)
	access.addAll(FieldObject, b.build(n.ChildByFieldName("object")))
	if prop := n.ChildByFieldName("property"); prop != nil && identifierTypes[prop.Type()] {
		id := b.identifier(prop)
		access.Name = id.Name
		access.add(FieldProperty, id)
	}
	return access
}

func (b *builder) subscript(n *sitter.Node) *Node {
	access := b.node(KindPropertyAccess, n)
	access.Computed = true
	access.addAll(FieldObject, b.build(n.ChildByFieldName("object")))
	index := b.build(n.ChildByFieldName("index"))
	if len(index) == 1 && index[0].Kind == KindStringLiteral && !index[0].Interpolated() {
		access.Name = index[0].Name
	}
	access.addAll(FieldIndex, index)
	return access
}

func (b *builder) call(n, callee *sitter.Node, isNew bool) *Node {
	out := b.node(KindCallExpression, n)
	out.New = isNew
	if c := b.single(callee); c != nil {
		out.Name = strings.Join(Path(Unwrap(c)), ".")
		out.add(FieldCallee, c)
	}

	args := n.ChildByFieldName("arguments")
	switch {
	case args == nil:
	case args.Type() == "arguments":
		for i := 0; i < int(args.NamedChildCount()); i++ {
			out.addAll(FieldArgument, b.build(args.NamedChild(i)))
		}
	default:
		// Tagged template: the template is the only argument.
		out.addAll(FieldArgument, b.build(args))
	}
	return out
}

// template builds a template literal. Substitution expressions become children and
// Refs is taken from the identifiers they contain.
func (b *builder) template(n *sitter.Node) *Node {
	lit := b.node(KindStringLiteral, n)
	lit.Template = true

	substituted := false
	for i := 0; i < int(n.NamedChildCount()); i++ {
		sub := n.NamedChild(i)
		if sub == nil || sub.Type() != "template_substitution" {
			continue
		}
		substituted = true
		lit.addAll(FieldSubstitution, b.children(sub))
	}
	if !substituted {
		lit.Name = unquote(b.text(n))
		return lit
	}
	lit.Refs, lit.opaque = templateRefs(lit)
	return lit
}

// templateRefs lists, in order and without duplicates, the identifiers read in the
// substitutions of a template literal. Property names after '.' are not references.
// Each nested template is visited once. opaque reports an Other node or an opaque nested template among the substitutions.
func templateRefs(lit *Node) (refs []string, opaque bool) {
	seen := make(map[string]bool)
	ref := func(name string) {
		if !seen[name] {
			seen[name] = true
			refs = append(refs, name)
		}
	}
	for _, sub := range lit.ChildrenByField(FieldSubstitution) {
		sub.Walk(func(n *Node) bool {
			switch {
			case n.Kind == KindOther:
				opaque = true
			case n.Template:
				// Nested templates already carry their references.
				for _, r := range n.Refs {
					ref(r)
				}
				opaque = opaque || n.opaque
				return false
			case n.Kind == KindIdentifier && n.Field != FieldProperty:
				ref(n.Name)
			}
			return true
		})
	}
	return refs, opaque
}
