package vpk

import (
	"fmt"
	"strings"
	"unicode"
)

// Node is one key of a KeyValues document. A node has either a Value or
// Children.
type Node struct {
	Key      string
	Value    string
	Children []*Node
}

// Child returns the first child whose key matches name, ignoring case.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if strings.EqualFold(c.Key, name) {
			return c
		}
	}
	return nil
}

// String returns the value of the first child named name, and whether it exists.
func (n *Node) String(name string) (string, bool) {
	c := n.Child(name)
	if c == nil || c.Children != nil {
		return "", false
	}
	return c.Value, true
}

// ParseKeyValues parses a KeyValues text document into a root node whose
// children are the document's top-level keys.
func ParseKeyValues(data []byte) (*Node, error) {
	p := &kvParser{src: []rune(strings.TrimPrefix(string(data), "\ufeff")), line: 1}
	root := &Node{}
	children, err := p.block(false)
	if err != nil {
		return nil, err
	}
	root.Children = children
	return root, nil
}

type kvParser struct {
	src  []rune
	pos  int
	line int
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokOpen
	tokClose
	tokConditional
)

func (p *kvParser) block(nested bool) ([]*Node, error) {
	children := []*Node{}
	for {
		kind, key, err := p.next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case tokEOF:
			if nested {
				return nil, fmt.Errorf("line %d: unexpected end of input, missing '}'", p.line)
			}
			return children, nil
		case tokClose:
			if !nested {
				return nil, fmt.Errorf("line %d: unexpected '}'", p.line)
			}
			return children, nil
		case tokOpen, tokConditional:
			return nil, fmt.Errorf("line %d: expected key", p.line)
		}

		kind, value, err := p.next()
		if err != nil {
			return nil, err
		}
		node := &Node{Key: key}
		switch kind {
		case tokString:
			node.Value = value
		case tokOpen:
			node.Children, err = p.block(true)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("line %d: expected value for %q", p.line, key)
		}

		// A platform conditional after the value, e.g. [$X360], is ignored.
		if p.peekConditional() {
			if _, _, err := p.next(); err != nil {
				return nil, err
			}
		}
		children = append(children, node)
	}
}

func (p *kvParser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\n':
			p.line++
			p.pos++
		case unicode.IsSpace(c):
			p.pos++
		case c == '/' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '/':
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *kvParser) peekConditional() bool {
	save, line := p.pos, p.line
	p.skipSpace()
	ok := p.pos < len(p.src) && p.src[p.pos] == '['
	p.pos, p.line = save, line
	return ok
}

func (p *kvParser) next() (tokenKind, string, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return tokEOF, "", nil
	}

	switch c := p.src[p.pos]; c {
	case '{':
		p.pos++
		return tokOpen, "", nil
	case '}':
		p.pos++
		return tokClose, "", nil
	case '[':
		end := p.pos
		for end < len(p.src) && p.src[end] != ']' && p.src[end] != '\n' {
			end++
		}
		if end >= len(p.src) || p.src[end] != ']' {
			return 0, "", fmt.Errorf("line %d: unterminated conditional", p.line)
		}
		s := string(p.src[p.pos+1 : end])
		p.pos = end + 1
		return tokConditional, s, nil
	case '"':
		return p.quoted()
	default:
		start := p.pos
		for p.pos < len(p.src) {
			c := p.src[p.pos]
			if unicode.IsSpace(c) || c == '{' || c == '}' || c == '"' {
				break
			}
			p.pos++
		}
		return tokString, string(p.src[start:p.pos]), nil
	}
}

func (p *kvParser) quoted() (tokenKind, string, error) {
	startLine := p.line
	p.pos++ // opening quote

	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			return tokString, b.String(), nil
		case c == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch esc := p.src[p.pos]; esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(esc)
			default:
				// Unknown escapes are literal; addon authors write Windows paths.
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
		default:
			if c == '\n' {
				p.line++
			}
			b.WriteRune(c)
		}
		p.pos++
	}
	return 0, "", fmt.Errorf("line %d: unterminated string", startLine)
}
