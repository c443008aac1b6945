package templating

import (
	"strings"

	"github.com/CTAG07/Drosera/pkg/cloze"
)

// ClozeContext selects which cloze deletions are active for a render and
// which side of the card is being produced. It only applies to fields passed
// through the cloze filter.
type ClozeContext struct {
	Ordinal  int
	Question bool
}

// Template is a parsed card template. It is immutable after Parse and may be
// rendered any number of times, including from multiple goroutines.
type Template struct {
	source string
	nodes  []Node
}

// Parse parses src into a Template.
func Parse(src string) (*Template, error) {
	nodes, err := ParseNodes(src)
	if err != nil {
		return nil, err
	}
	return &Template{source: src, nodes: nodes}, nil
}

// MustParse is like Parse but panics on error. It is meant for templates
// compiled into the program.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the text the template was parsed from.
func (t *Template) Source() string {
	return t.source
}

// Nodes returns the parsed tree. Callers must not modify it.
func (t *Template) Nodes() []Node {
	return t.nodes
}

// Render renders the template without cloze context; the cloze filter leaves
// field values unchanged.
func (t *Template) Render(fields map[string]string) string {
	return t.Execute(fields, nil)
}

// RenderCloze renders the template for the card with the given ordinal.
func (t *Template) RenderCloze(fields map[string]string, ordinal int, question bool) string {
	return t.Execute(fields, &ClozeContext{Ordinal: ordinal, Question: question})
}

// Execute renders the template against fields. Missing fields render as the
// empty string and unknown filters pass values through, so rendering cannot
// fail. ctx may be nil.
func (t *Template) Execute(fields map[string]string, ctx *ClozeContext) string {
	var sb strings.Builder
	renderNodes(&sb, t.nodes, fields, ctx)
	return sb.String()
}

func renderNodes(sb *strings.Builder, nodes []Node, fields map[string]string, ctx *ClozeContext) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *TextNode:
			sb.WriteString(n.Text)
		case *FieldNode:
			sb.WriteString(renderField(n, fields, ctx))
		case *ConditionalNode:
			hasValue := fields[n.Field] != ""
			if hasValue != n.Negated {
				renderNodes(sb, n.Children, fields, ctx)
			}
		}
	}
}

// renderField looks the field up and applies its filters right to left, so
// {{outer:inner:Field}} yields outer(inner(Field)).
func renderField(n *FieldNode, fields map[string]string, ctx *ClozeContext) string {
	value := fields[n.Name]
	for i := len(n.Filters) - 1; i >= 0; i-- {
		name := n.Filters[i]
		if name == ClozeFilter {
			if ctx != nil {
				value = cloze.Render(value, ctx.Ordinal, ctx.Question)
			}
			continue
		}
		value = ApplyFilter(name, value)
	}
	return value
}

// FieldNames returns the distinct field names the template reads, both in
// substitutions and conditionals, in order of first appearance.
func (t *Template) FieldNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	walk(t.nodes, func(n Node) {
		switch n := n.(type) {
		case *FieldNode:
			add(n.Name)
		case *ConditionalNode:
			add(n.Field)
		}
	})
	return names
}

// ClozeFields returns the distinct fields rendered through the cloze filter.
func (t *Template) ClozeFields() []string {
	seen := make(map[string]struct{})
	var names []string
	walk(t.nodes, func(n Node) {
		f, ok := n.(*FieldNode)
		if !ok {
			return
		}
		for _, filter := range f.Filters {
			if filter != ClozeFilter {
				continue
			}
			if _, dup := seen[f.Name]; !dup {
				seen[f.Name] = struct{}{}
				names = append(names, f.Name)
			}
			break
		}
	})
	return names
}

// Filters returns the distinct filter names used anywhere in the template.
func (t *Template) Filters() []string {
	seen := make(map[string]struct{})
	var names []string
	walk(t.nodes, func(n Node) {
		f, ok := n.(*FieldNode)
		if !ok {
			return
		}
		for _, filter := range f.Filters {
			if _, dup := seen[filter]; !dup {
				seen[filter] = struct{}{}
				names = append(names, filter)
			}
		}
	})
	return names
}

// Render parses and renders a template in one step. It fails only when the
// template is malformed.
func Render(template string, fields map[string]string) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return t.Render(fields), nil
}

// RenderWithCloze parses and renders a template for one side of the cloze
// card with the given ordinal.
func RenderWithCloze(template string, fields map[string]string, ordinal int, question bool) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return t.RenderCloze(fields, ordinal, question), nil
}

// CountClozeCards returns the number of cards a cloze field generates, which
// is its highest cloze ordinal.
func CountClozeCards(fieldText string) int {
	return cloze.CountOrdinals(fieldText)
}
