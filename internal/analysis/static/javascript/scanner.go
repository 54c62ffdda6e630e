// Filename: javascript/scanner.go
package javascript

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	jsgrammar "github.com/smacker/go-tree-sitter/javascript"
)

// maxNesting bounds the depth of the converted tree. Deeper syntax is kept as Other
// leaves.
const maxNesting = 512

// Diagnostics describes how completely a unit was scanned.
type Diagnostics struct {
	// Degraded is set when the grammar reported ERROR or missing nodes, the nesting
	// limit was reached or parsing was abandoned. The affected regions are Other nodes.
	Degraded bool
	// Offset is the byte offset where scanning degraded, or -1.
	Offset int
	Reason string
	// Nodes counts the structural nodes built, gap nodes excluded.
	Nodes int
}

func (d *Diagnostics) degrade(offset int, reason string) {
	if d.Degraded {
		return
	}
	d.Degraded = true
	d.Offset = offset
	d.Reason = reason
}

// Scan parses text into a tree rooted at a Program node. It never fails: regions the
// grammar rejects become Other nodes and the Diagnostics are marked degraded.
func Scan(text string) (*Node, Diagnostics) {
	return ScanContext(context.Background(), text)
}

// ScanContext is Scan with a context that can abandon the parse. An abandoned parse
// yields a single Other node over the whole text.
func ScanContext(ctx context.Context, text string) (*Node, Diagnostics) {
	diag := Diagnostics{Offset: -1}
	root := newNode(KindProgram, 0, len(text))
	if text == "" {
		return root, diag
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(jsgrammar.GetLanguage())

	src := []byte(text)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		root.Children = []*Node{newNode(KindOther, 0, len(text))}
		diag.degrade(0, fmt.Sprintf("parse abandoned: %v", err))
		seal(root)
		return root, diag
	}
	defer tree.Close()

	program := tree.RootNode()
	b := &builder{src: src, deepAt: -1}
	root.Children = b.children(program)
	diag.Nodes = b.nodes

	if program.HasError() {
		offset, reason := 0, "syntax error"
		if bad := firstError(program); bad != nil {
			offset = int(bad.StartByte())
			if bad.IsMissing() {
				reason = "missing " + bad.Type()
			}
		}
		diag.degrade(offset, reason)
	}
	if b.deepAt >= 0 {
		diag.degrade(b.deepAt, "nesting limit exceeded")
	}

	seal(root)
	return root, diag
}

// firstError returns the first ERROR or missing node in document order.
func firstError(node *sitter.Node) *sitter.Node {
	if node == nil || node.IsNull() {
		return nil
	}
	if node.IsError() || node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}

	cursor := sitter.NewTreeCursor(node)
	defer cursor.Close()
	if ok := cursor.GoToFirstChild(); ok {
		for {
			if bad := firstError(cursor.CurrentNode()); bad != nil {
				return bad
			}
			if ok := cursor.GoToNextSibling(); !ok {
				break
			}
		}
	}
	return nil
}

// seal fills the gaps between children with Other nodes so that the children of every
// non-leaf node tile its span, and links parents. Children that overlap a previous
// sibling or escape the parent are dropped.
func seal(n *Node) {
	if len(n.Children) == 0 {
		return
	}
	filled := make([]*Node, 0, 2*len(n.Children)+1)
	cursor := n.Span.Start
	for _, c := range n.Children {
		if c.Span.Start < cursor || c.Span.End > n.Span.End {
			continue
		}
		if c.Span.Start > cursor {
			filled = append(filled, newNode(KindOther, cursor, c.Span.Start))
		}
		filled = append(filled, c)
		cursor = c.Span.End
	}
	if cursor < n.Span.End {
		filled = append(filled, newNode(KindOther, cursor, n.Span.End))
	}
	n.Children = filled
	for _, c := range filled {
		c.parent = n
		seal(c)
	}
}
