package ty

import (
	"fmt"
	"strconv"
	"unicode"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		case unicode.IsDigit(r):
			start := i
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case r == '(' || r == ')' || r == '[' || r == ']' || r == '{' || r == '}' ||
			r == ',' || r == ';' || r == '&' || r == '*':
			toks = append(toks, token{kind: tokPunct, text: string(r), pos: i})
			i++
		default:
			return nil, fmt.Errorf("ty: unexpected %q at offset %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	toks []token
	pos  int
}

// Parse reads a type written in the usual surface syntax:
//
//	u32  bool  ()  (u8, u32)  [u16; 4]  &T  &mut T  *const T  *mut T  Name{u8, &u32}
func Parse(src string) (*Ty, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("ty: unexpected %q at offset %d", tok.text, tok.pos)
	}
	return t, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(src string) *Ty {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) accept(punct string) bool {
	if tok := p.peek(); tok.kind == tokPunct && tok.text == punct {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(punct string) error {
	if !p.accept(punct) {
		tok := p.peek()
		return fmt.Errorf("ty: expected %q at offset %d, found %q", punct, tok.pos, tok.text)
	}
	return nil
}

func (p *parser) parseType() (*Ty, error) {
	tok := p.next()
	switch {
	case tok.kind == tokPunct && tok.text == "(":
		return p.parseTuple()
	case tok.kind == tokPunct && tok.text == "[":
		return p.parseArray()
	case tok.kind == tokPunct && tok.text == "&":
		mut := false
		if t := p.peek(); t.kind == tokIdent && t.text == "mut" {
			p.next()
			mut = true
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return Ref(elem, mut), nil
	case tok.kind == tokPunct && tok.text == "*":
		q := p.next()
		if q.kind != tokIdent || (q.text != "const" && q.text != "mut") {
			return nil, fmt.Errorf("ty: expected const or mut after * at offset %d", q.pos)
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return RawPtr(elem, q.text == "mut"), nil
	case tok.kind == tokIdent:
		if k, ok := primitives[tok.text]; ok {
			return &Ty{kind: k}, nil
		}
		var fields []*Ty
		if p.accept("{") {
			var err error
			if fields, err = p.parseList("}"); err != nil {
				return nil, err
			}
		}
		return Adt(tok.text, fields...), nil
	case tok.kind == tokEOF:
		return nil, fmt.Errorf("ty: unexpected end of type")
	}
	return nil, fmt.Errorf("ty: unexpected %q at offset %d", tok.text, tok.pos)
}

func (p *parser) parseTuple() (*Ty, error) {
	fields, err := p.parseList(")")
	if err != nil {
		return nil, err
	}
	return Tuple(fields...), nil
}

// parseList reads comma-separated types up to and including close. A
// trailing comma is allowed.
func (p *parser) parseList(close string) ([]*Ty, error) {
	var fields []*Ty
	for !p.accept(close) {
		f, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if !p.accept(",") {
			if err := p.expect(close); err != nil {
				return nil, err
			}
			break
		}
	}
	return fields, nil
}

func (p *parser) parseArray() (*Ty, error) {
	elem, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	tok := p.next()
	if tok.kind != tokNumber {
		return nil, fmt.Errorf("ty: expected array length at offset %d", tok.pos)
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil {
		return nil, fmt.Errorf("ty: array length %q: %w", tok.text, err)
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return Array(elem, n), nil
}
