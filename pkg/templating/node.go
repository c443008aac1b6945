package templating

// Node is one element of a parsed template. The set of node types is closed:
// *TextNode, *FieldNode and *ConditionalNode are the only implementations.
type Node interface {
	node()
}

// TextNode is literal template text, emitted verbatim.
type TextNode struct {
	Text string
}

// FieldNode is a field substitution such as {{Front}} or {{hint:text:Back}}.
// Filters are kept in the order they were written, outermost first.
type FieldNode struct {
	Name    string
	Filters []string
}

// ConditionalNode is a {{#Field}}...{{/Field}} block, or {{^Field}}...{{/Field}}
// when Negated is set. Children are rendered only when the field's emptiness
// matches the block's polarity.
type ConditionalNode struct {
	Field    string
	Negated  bool
	Children []Node
}

func (*TextNode) node()        {}
func (*FieldNode) node()       {}
func (*ConditionalNode) node() {}

// walk visits every node depth-first, left to right.
func walk(nodes []Node, visit func(Node)) {
	for _, n := range nodes {
		visit(n)
		if c, ok := n.(*ConditionalNode); ok {
			walk(c.Children, visit)
		}
	}
}
