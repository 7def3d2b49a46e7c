package sjson

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ParseError describes a syntax error and where it occurred. Line and Col
// are 1-based.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sjson: line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parse parses a complete document and returns the root object. The root
// braces may be omitted; an empty document parses to an empty object.
func Parse(data []byte) (*Node, error) {
	p := &parser{data: data, line: 1, col: 1}
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	var root *Node
	var err error
	if p.peek() == '{' {
		root, err = p.parseObject()
	} else {
		root, err = p.parseMembers(0)
	}
	if err != nil {
		return nil, err
	}
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errf("unexpected character %q after document", p.peek())
	}
	return root, nil
}

type parser struct {
	data []byte
	pos  int
	line int
	col  int
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.data[p.pos]
}

func (p *parser) peek2() byte {
	if p.pos+1 >= len(p.data) {
		return 0
	}
	return p.data[p.pos+1]
}

func (p *parser) next() byte {
	c := p.data[p.pos]
	p.pos++
	if c == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return c
}

func (p *parser) errf(format string, args ...interface{}) error {
	return &ParseError{Line: p.line, Col: p.col, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace advances over whitespace and '//' and '/* */' comments.
func (p *parser) skipSpace() error {
	for !p.eof() {
		switch c := p.peek(); {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			p.next()
		case c == '/' && p.peek2() == '/':
			for !p.eof() && p.peek() != '\n' {
				p.next()
			}
		case c == '/' && p.peek2() == '*':
			line, col := p.line, p.col
			p.next()
			p.next()
			for {
				if p.eof() {
					return &ParseError{Line: line, Col: col, Msg: "unterminated block comment"}
				}
				if p.peek() == '*' && p.peek2() == '/' {
					p.next()
					p.next()
					break
				}
				p.next()
			}
		default:
			return nil
		}
	}
	return nil
}

func (p *parser) parseValue() (*Node, error) {
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, p.errf("unexpected end of input, expected a value")
	}
	line, col := p.line, p.col
	switch c := p.peek(); {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		return &Node{kind: KindString, str: s, line: line, col: col}, nil
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseKeyword()
	default:
		return nil, p.errf("unexpected character %q", c)
	}
}

func (p *parser) parseObject() (*Node, error) {
	p.next() // consume '{'
	return p.parseMembers('}')
}

// parseMembers parses a member list. term is '}' for a braced object and 0
// for the implicit root, which runs until end of input.
func (p *parser) parseMembers(term byte) (*Node, error) {
	obj := &Node{kind: KindObject, idx: map[string]int{}, line: p.line, col: p.col}
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			if term != 0 {
				return nil, p.errf("unexpected end of input, expected %q", term)
			}
			return obj, nil
		}
		if term != 0 && p.peek() == term {
			p.next()
			return obj, nil
		}
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if c := p.peek(); c != '=' && c != ':' {
			return nil, p.errf("expected '=' or ':' after key %q", key)
		}
		p.next()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		obj.put(key, v)
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.peek() == ',' {
			p.next()
		}
	}
}

func (p *parser) parseKey() (string, error) {
	if p.peek() == '"' {
		return p.parseString()
	}
	if !isIdentStart(p.peek()) {
		return "", p.errf("expected key, got %q", p.peek())
	}
	start := p.pos
	for !p.eof() && isIdentPart(p.peek()) {
		p.next()
	}
	return string(p.data[start:p.pos]), nil
}

func (p *parser) parseArray() (*Node, error) {
	n := &Node{kind: KindArray, line: p.line, col: p.col}
	p.next() // consume '['
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, p.errf("unexpected end of input, expected ']'")
		}
		if p.peek() == ']' {
			p.next()
			return n, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		n.arr = append(n.arr, v)
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.peek() == ',' {
			p.next()
		}
	}
}

func (p *parser) parseString() (string, error) {
	line, col := p.line, p.col
	p.next() // consume '"'
	var b strings.Builder
	for {
		if p.eof() {
			return "", &ParseError{Line: line, Col: col, Msg: "unterminated string"}
		}
		c := p.next()
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if p.eof() {
				return "", &ParseError{Line: line, Col: col, Msg: "unterminated string"}
			}
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
		}
	}
}

func (p *parser) parseEscape(b *strings.Builder) error {
	switch c := p.next(); c {
	case '"', '\\', '/':
		b.WriteByte(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		r, err := p.parseHexRune()
		if err != nil {
			return err
		}
		if utf16.IsSurrogate(r) && p.peek() == '\\' && p.peek2() == 'u' {
			p.next()
			p.next()
			r2, err := p.parseHexRune()
			if err != nil {
				return err
			}
			if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
				r = dec
			} else {
				b.WriteRune(utf8.RuneError)
				r = r2
			}
		}
		b.WriteRune(r)
	default:
		return p.errf("invalid escape %q", "\\"+string(c))
	}
	return nil
}

func (p *parser) parseHexRune() (rune, error) {
	if p.pos+4 > len(p.data) {
		return 0, p.errf("truncated \\u escape")
	}
	hex := string(p.data[p.pos : p.pos+4])
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, p.errf("invalid \\u escape %q", hex)
	}
	for i := 0; i < 4; i++ {
		p.next()
	}
	return rune(v), nil
}

func (p *parser) parseNumber() (*Node, error) {
	line, col := p.line, p.col
	start := p.pos
	for !p.eof() && isNumberPart(p.peek()) {
		p.next()
	}
	text := string(p.data[start:p.pos])
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, &ParseError{Line: line, Col: col, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	return &Node{kind: KindNumber, num: f, line: line, col: col}, nil
}

func (p *parser) parseKeyword() (*Node, error) {
	line, col := p.line, p.col
	start := p.pos
	for !p.eof() && isIdentPart(p.peek()) {
		p.next()
	}
	switch text := string(p.data[start:p.pos]); text {
	case "true":
		return &Node{kind: KindBool, b: true, line: line, col: col}, nil
	case "false":
		return &Node{kind: KindBool, b: false, line: line, col: col}, nil
	case "null":
		return &Node{kind: KindNull, line: line, col: col}, nil
	default:
		return nil, &ParseError{Line: line, Col: col, Msg: fmt.Sprintf("invalid literal %q", text)}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isNumberPart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' || c == 'e' || c == 'E'
}
