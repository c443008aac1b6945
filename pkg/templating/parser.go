package templating

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
	// maxTagEcho bounds how much of an offending tag is copied into a ParseError.
	maxTagEcho = 40
)

// parser is a recursive-descent parser over a single template string. A
// conditional's body gets its own parser.
type parser struct {
	input string
	pos   int
}

func newParser(input string) *parser {
	return &parser{input: input}
}

// ParseNodes parses a template into its node tree without wrapping it in a
// Template.
func ParseNodes(src string) ([]Node, error) {
	return newParser(src).parseAll()
}

// parseAll consumes the whole input. Any top-level input the grammar cannot
// consume is an error; nothing is rendered from a partially parsed template.
func (p *parser) parseAll() ([]Node, error) {
	nodes := p.parseMany()
	if p.pos < len(p.input) {
		return nil, p.leftoverError()
	}
	return nodes, nil
}

// parseMany parses nodes until no rule matches or the input ends.
// Conditional bodies stop here: whatever follows the last node that parsed
// is dropped.
func (p *parser) parseMany() []Node {
	var nodes []Node
	for p.pos < len(p.input) {
		node := p.parseNext()
		if node == nil {
			break
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// parseNext tries, in order, a conditional block, a field and plain text. It
// returns nil when none of them match at the current position.
func (p *parser) parseNext() Node {
	if node := p.parseConditional(); node != nil {
		return node
	}
	if node := p.parseField(); node != nil {
		return node
	}
	return p.parseText()
}

// conditionalOpen matches {{#Name}} or {{^Name}} at the start of s. It returns
// the raw name and the length of the tag.
func conditionalOpen(s string) (name string, negated bool, n int, ok bool) {
	if !strings.HasPrefix(s, openDelim) || len(s) < len(openDelim)+1 {
		return "", false, 0, false
	}
	switch s[len(openDelim)] {
	case '#':
	case '^':
		negated = true
	default:
		return "", false, 0, false
	}
	i := len(openDelim) + 1
	name = takeWhile(s[i:], isNameRune)
	if name == "" {
		return "", false, 0, false
	}
	i += len(name)
	if !strings.HasPrefix(s[i:], closeDelim) {
		return "", false, 0, false
	}
	return name, negated, i + len(closeDelim), true
}

// parseConditional parses a whole conditional block. The body ends at the
// first literal {{/Name}} after the open tag, where Name is spelled exactly as
// in the open tag. Nesting is not tracked: an inner block on the same field
// closes the outer one, and the unclosed inner open tag ends the body.
func (p *parser) parseConditional() Node {
	rest := p.input[p.pos:]
	name, negated, openLen, ok := conditionalOpen(rest)
	if !ok {
		return nil
	}
	closeTag := openDelim + "/" + name + closeDelim
	end := strings.Index(rest[openLen:], closeTag)
	if end < 0 {
		return nil
	}

	body := newParser(rest[openLen : openLen+end])
	children := body.parseMany()

	p.pos += openLen + end + len(closeTag)
	return &ConditionalNode{
		Field:    strings.TrimSpace(name),
		Negated:  negated,
		Children: children,
	}
}

// parseField parses {{Name}} or {{filter1:filter2:Name}}. Every segment that
// is followed by a colon is a filter; the final segment is the field name.
func (p *parser) parseField() Node {
	rest := p.input[p.pos:]
	if !strings.HasPrefix(rest, openDelim) {
		return nil
	}
	i := len(openDelim)

	var filters []string
	for {
		seg := takeWhile(rest[i:], isFilterRune)
		if seg == "" || !strings.HasPrefix(rest[i+len(seg):], ":") {
			break
		}
		filters = append(filters, seg)
		i += len(seg) + 1
	}

	name := takeWhile(rest[i:], isNameRune)
	if name == "" {
		return nil
	}
	i += len(name)
	if !strings.HasPrefix(rest[i:], closeDelim) {
		return nil
	}

	p.pos += i + len(closeDelim)
	return &FieldNode{
		Name:    strings.TrimSpace(name),
		Filters: filters,
	}
}

// parseText consumes everything up to the next "{{". It returns nil when the
// input already starts with "{{", which means no other rule accepted the tag.
func (p *parser) parseText() Node {
	rest := p.input[p.pos:]
	end := strings.Index(rest, openDelim)
	switch {
	case end < 0:
		end = len(rest)
	case end == 0:
		return nil
	}
	p.pos += end
	return &TextNode{Text: rest[:end]}
}

// leftoverError classifies the input the parser stopped at.
func (p *parser) leftoverError() error {
	rest := p.input[p.pos:]
	offset := p.pos

	if name, _, openLen, ok := conditionalOpen(rest); ok {
		return &ParseError{
			Kind:   ErrMissingClose,
			Offset: offset,
			Tag:    rest[:openLen],
			Want:   openDelim + "/" + name + closeDelim,
		}
	}

	end := strings.Index(rest[len(openDelim):], closeDelim)
	if end < 0 {
		return &ParseError{Kind: ErrUnterminated, Offset: offset, Tag: truncate(rest)}
	}
	return &ParseError{
		Kind:   ErrUnexpected,
		Offset: offset,
		Tag:    truncate(rest[:len(openDelim)+end+len(closeDelim)]),
	}
}

// isAlphanumeric reports whether r is alphabetic or numeric in the Unicode
// sense, including combining vowel signs that count as alphabetic.
func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Other_Alphabetic, r)
}

func isNameRune(r rune) bool {
	return isAlphanumeric(r) || r == '_' || r == ' '
}

func isFilterRune(r rune) bool {
	return isAlphanumeric(r) || r == '_' || r == '-'
}

// takeWhile returns the longest prefix of s whose runes all satisfy f.
func takeWhile(s string, f func(rune) bool) string {
	for i, r := range s {
		if !f(r) {
			return s[:i]
		}
	}
	return s
}

func truncate(s string) string {
	if len(s) <= maxTagEcho {
		return s
	}
	cut := maxTagEcho
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
