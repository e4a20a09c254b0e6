package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// Render returns the DSL form of n.
//
//	"debt" | ("lien" & !"tax")
//
// Operators, loosest first: | (or), & (and), ! (not). Nested operators of
// equal precedence are parenthesized so Parse reproduces the same tree.
// Single-child And/Or nodes render as their child.
func Render(n Node) string {
	var b strings.Builder
	render(&b, n, 0)
	return b.String()
}

const (
	precOr = iota + 1
	precAnd
	precNot
	precAtom
)

func precedence(n Node) int {
	switch node := n.(type) {
	case Or:
		if len(node.Nodes) == 1 {
			return precedence(node.Nodes[0])
		}
		return precOr
	case *Or:
		return precedence(*node)
	case And:
		if len(node.Nodes) == 1 {
			return precedence(node.Nodes[0])
		}
		return precAnd
	case *And:
		return precedence(*node)
	case Not, *Not:
		return precNot
	}
	return precAtom
}

func render(b *strings.Builder, n Node, parent int) {
	p := precedence(n)
	paren := parent > 0 && p < precAtom && (p < parent || (p == parent && p != precNot))
	if paren {
		b.WriteByte('(')
	}
	switch node := n.(type) {
	case Match:
		quote(b, node.Value)
	case *Match:
		quote(b, node.Value)
	case And:
		join(b, node.Nodes, " & ", precAnd)
	case *And:
		join(b, node.Nodes, " & ", precAnd)
	case Or:
		join(b, node.Nodes, " | ", precOr)
	case *Or:
		join(b, node.Nodes, " | ", precOr)
	case Not:
		b.WriteByte('!')
		render(b, node.Node, precNot)
	case *Not:
		b.WriteByte('!')
		render(b, node.Node, precNot)
	}
	if paren {
		b.WriteByte(')')
	}
}

func join(b *strings.Builder, nodes []Node, sep string, prec int) {
	if len(nodes) == 1 {
		render(b, nodes[0], 0)
		return
	}
	for i, c := range nodes {
		if i > 0 {
			b.WriteString(sep)
		}
		render(b, c, prec)
	}
}

func quote(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
}

// Parse parses the DSL form and validates the result. Unquoted words made of
// letters, digits, '-' and '_' are accepted as literals.
func Parse(src string) (Node, error) {
	p := &parser{src: []rune(src)}
	n, err := p.parseOr(1)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", string(p.peek()))
	}
	if err := Validate(n); err != nil {
		return nil, err
	}
	return n, nil
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() rune { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &ValidationError{
		Path:   fmt.Sprintf("offset %d", p.pos),
		Reason: fmt.Sprintf(format, args...),
	}
}

func (p *parser) parseOr(depth int) (Node, error) {
	first, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for {
		p.skipSpace()
		if p.eof() || p.peek() != '|' {
			break
		}
		p.pos++
		n, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return Or{Nodes: nodes}, nil
}

func (p *parser) parseAnd(depth int) (Node, error) {
	first, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for {
		p.skipSpace()
		if p.eof() || p.peek() != '&' {
			break
		}
		p.pos++
		n, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return And{Nodes: nodes}, nil
}

func (p *parser) parseUnary(depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, p.errorf("depth exceeds %d", MaxDepth)
	}
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	switch r := p.peek(); {
	case r == '!':
		p.pos++
		n, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not{Node: n}, nil
	case r == '(':
		p.pos++
		n, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ')' {
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return n, nil
	case r == '"':
		return p.parseQuoted()
	case isWordRune(r):
		start := p.pos
		for !p.eof() && isWordRune(p.peek()) {
			p.pos++
		}
		return Match{Value: string(p.src[start:p.pos])}, nil
	default:
		return nil, p.errorf("unexpected %q", string(r))
	}
}

func (p *parser) parseQuoted() (Node, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.eof() {
		r := p.peek()
		p.pos++
		switch r {
		case '"':
			return Match{Value: b.String()}, nil
		case '\\':
			if p.eof() {
				return nil, p.errorf("unterminated escape")
			}
			e := p.peek()
			if e != '"' && e != '\\' {
				return nil, p.errorf("unknown escape \\%c", e)
			}
			b.WriteRune(e)
			p.pos++
		default:
			b.WriteRune(r)
		}
	}
	return nil, p.errorf("unterminated string")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}
