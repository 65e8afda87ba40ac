package mathml

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokChar
	tokCommand
	tokOpen
	tokClose
	tokSup
	tokSub
	tokSpace
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src  string
	pos  int
	peek *token
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) next() token {
	if l.peek != nil {
		t := *l.peek
		l.peek = nil
		return t
	}
	return l.scan()
}

func (l *lexer) lookahead() token {
	if l.peek == nil {
		t := l.scan()
		l.peek = &t
	}
	return *l.peek
}

func (l *lexer) scan() token {
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}
	}
	start := l.pos
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	switch {
	case unicode.IsSpace(r):
		for l.pos < len(l.src) {
			r2, s2 := utf8.DecodeRuneInString(l.src[l.pos:])
			if !unicode.IsSpace(r2) {
				break
			}
			l.pos += s2
		}
		return token{kind: tokSpace, text: " ", pos: start}
	case r == '{':
		return token{kind: tokOpen, text: "{", pos: start}
	case r == '}':
		return token{kind: tokClose, text: "}", pos: start}
	case r == '^':
		return token{kind: tokSup, text: "^", pos: start}
	case r == '_':
		return token{kind: tokSub, text: "_", pos: start}
	case r == '\\':
		if l.pos >= len(l.src) {
			return token{kind: tokCommand, text: "\\", pos: start}
		}
		r2, s2 := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isLetter(r2) {
			l.pos += s2
			return token{kind: tokCommand, text: "\\" + string(r2), pos: start}
		}
		for l.pos < len(l.src) {
			r3, s3 := utf8.DecodeRuneInString(l.src[l.pos:])
			if !isLetter(r3) {
				break
			}
			l.pos += s3
		}
		return token{kind: tokCommand, text: l.src[start:l.pos], pos: start}
	}
	return token{kind: tokChar, text: string(r), pos: start}
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// rawGroup reads a brace group verbatim, for \text.
func (l *lexer) rawGroup() (string, error) {
	l.skipSpace()
	if l.pos >= len(l.src) || l.src[l.pos] != '{' {
		return "", &ParseError{Pos: l.pos, Msg: "Expected '{'"}
	}
	start := l.pos + 1
	depth := 0
	for i := l.pos; i < len(l.src); i++ {
		switch l.src[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				l.pos = i + 1
				return l.src[start:i], nil
			}
		}
	}
	return "", &ParseError{Pos: len(l.src), Msg: "Expected '}'"}
}

func (l *lexer) skipSpace() {
	if l.peek != nil {
		l.pos = l.peek.pos
		l.peek = nil
	}
	for l.pos < len(l.src) {
		r, s := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += s
	}
}

type parser struct {
	lex *lexer
}

// stop says what ends an expression.
type stop int

const (
	stopEOF   stop = iota
	stopBrace      // consumed
	stopRight      // left for the caller
)

// parseExpression reads atoms until the terminator given by until.
func (p *parser) parseExpression(until stop) ([]*node, error) {
	var out []*node
	for {
		t := p.lex.lookahead()
		switch t.kind {
		case tokEOF:
			switch until {
			case stopBrace:
				return nil, &ParseError{Pos: t.pos, Msg: "Expected '}'"}
			case stopRight:
				return nil, &ParseError{Pos: t.pos, Msg: "Expected '\\right'"}
			}
			return out, nil
		case tokClose:
			if until != stopBrace {
				return nil, &ParseError{Pos: t.pos, Msg: "Unexpected '}'"}
			}
			p.lex.next()
			return out, nil
		case tokSpace:
			p.lex.next()
			continue
		case tokCommand:
			if t.text == `\right` {
				if until != stopRight {
					return nil, &ParseError{Pos: t.pos, Msg: "Unexpected '\\right'"}
				}
				return out, nil
			}
		}
		n, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
}

// parseAtom reads a base followed by optional scripts.
func (p *parser) parseAtom() (*node, error) {
	t := p.lex.lookahead()
	var base *node
	if t.kind != tokSup && t.kind != tokSub {
		var err error
		base, err = p.parseBase()
		if err != nil {
			return nil, err
		}
	}

	var sup, sub *node
	for {
		t := p.lex.lookahead()
		if t.kind == tokSpace {
			p.lex.next()
			continue
		}
		if t.kind != tokSup && t.kind != tokSub {
			break
		}
		p.lex.next()
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		if t.kind == tokSup {
			if sup != nil {
				return nil, &ParseError{Pos: t.pos, Msg: "Double superscript"}
			}
			sup = arg
		} else {
			if sub != nil {
				return nil, &ParseError{Pos: t.pos, Msg: "Double subscript"}
			}
			sub = arg
		}
	}

	if base == nil {
		base = elem("mrow")
	}
	under := isLargeOperator(base)
	switch {
	case sup != nil && sub != nil:
		if under {
			return elem("munderover", base, sub, sup), nil
		}
		return elem("msubsup", base, sub, sup), nil
	case sup != nil:
		return elem("msup", base, sup), nil
	case sub != nil:
		if under {
			return elem("munder", base, sub), nil
		}
		return elem("msub", base, sub), nil
	}
	return base, nil
}

// parseArgument reads one mandatory argument: a group or a single atom base.
func (p *parser) parseArgument() (*node, error) {
	for p.lex.lookahead().kind == tokSpace {
		p.lex.next()
	}
	t := p.lex.lookahead()
	switch t.kind {
	case tokEOF, tokClose:
		return nil, &ParseError{Pos: t.pos, Msg: "Expected group"}
	case tokSup, tokSub:
		return nil, &ParseError{Pos: t.pos, Msg: "Unexpected '" + t.text + "'"}
	}
	return p.parseBase()
}

func (p *parser) parseGroup() (*node, error) {
	open := p.lex.next()
	if open.kind != tokOpen {
		return nil, &ParseError{Pos: open.pos, Msg: "Expected '{'"}
	}
	body, err := p.parseExpression(stopBrace)
	if err != nil {
		return nil, err
	}
	return elem("mrow", body...), nil
}

func (p *parser) parseBase() (*node, error) {
	t := p.lex.lookahead()
	switch t.kind {
	case tokOpen:
		return p.parseGroup()
	case tokCommand:
		p.lex.next()
		return p.parseCommand(t)
	case tokChar:
		p.lex.next()
		return p.parseChar(t)
	}
	p.lex.next()
	return nil, &ParseError{Pos: t.pos, Msg: "Unexpected '" + t.text + "'"}
}

func (p *parser) parseChar(t token) (*node, error) {
	r, _ := utf8.DecodeRuneInString(t.text)
	switch {
	case unicode.IsDigit(r) || r == '.':
		num := t.text
		for {
			nt := p.lex.lookahead()
			if nt.kind != tokChar {
				break
			}
			nr, _ := utf8.DecodeRuneInString(nt.text)
			if !unicode.IsDigit(nr) && nr != '.' {
				break
			}
			num += nt.text
			p.lex.next()
		}
		if num == "." {
			return leaf("mo", "."), nil
		}
		return leaf("mn", num), nil
	case unicode.IsLetter(r):
		return leaf("mi", t.text), nil
	case r == '\'':
		return leaf("mo", "′"), nil
	case r == '#' || r == '&' || r == '~' || r == '%' || r == '$':
		if r == '~' {
			return leaf("mspace", "", [2]string{"width", "0.333em"}), nil
		}
		return nil, &ParseError{Pos: t.pos, Msg: "Unexpected character '" + t.text + "'"}
	}
	if isFence(t.text) {
		return leaf("mo", t.text, [2]string{"fence", "true"}, [2]string{"stretchy", "false"}), nil
	}
	return leaf("mo", t.text), nil
}

func isFence(s string) bool {
	switch s {
	case "(", ")", "[", "]", "|":
		return true
	}
	return false
}

func isLargeOperator(n *node) bool {
	if n == nil || n.tag != "mo" {
		return false
	}
	for _, a := range n.attrs {
		if a[0] == "movablelimits" {
			return true
		}
	}
	return false
}

func (p *parser) parseCommand(t token) (*node, error) {
	name := t.text
	if sym, ok := identifiers[name]; ok {
		return leaf("mi", sym), nil
	}
	if sym, ok := operators[name]; ok {
		return leaf("mo", sym), nil
	}
	if sym, ok := largeOperators[name]; ok {
		return leaf("mo", sym, [2]string{"movablelimits", "true"}), nil
	}
	if fn, ok := functions[name]; ok {
		return leaf("mi", fn, [2]string{"mathvariant", "normal"}), nil
	}
	if width, ok := spaces[name]; ok {
		return leaf("mspace", "", [2]string{"width", width}), nil
	}
	if variant, ok := fonts[name]; ok {
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		n := elem("mstyle", arg)
		n.attrs = [][2]string{{"mathvariant", variant}}
		return n, nil
	}
	if accent, ok := accents[name]; ok {
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		n := elem("mover", arg, leaf("mo", accent))
		n.attrs = [][2]string{{"accent", "true"}}
		return n, nil
	}

	switch name {
	case `\frac`, `\dfrac`, `\tfrac`:
		num, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		den, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		return elem("mfrac", num, den), nil
	case `\sqrt`:
		var index []*node
		if nt := p.lex.lookahead(); nt.kind == tokChar && nt.text == "[" {
			p.lex.next()
			var err error
			index, err = p.parseUntilChar("]")
			if err != nil {
				return nil, err
			}
		}
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		if index != nil {
			return elem("mroot", arg, row(index)), nil
		}
		return elem("msqrt", arg), nil
	case `\text`, `\textrm`, `\mbox`:
		raw, err := p.lex.rawGroup()
		if err != nil {
			return nil, err
		}
		return leaf("mtext", raw), nil
	case `\left`:
		return p.parseLeftRight(t)
	case `\{`, `\}`:
		return leaf("mo", name[1:], [2]string{"fence", "true"}, [2]string{"stretchy", "false"}), nil
	case `\\`:
		return leaf("mspace", "", [2]string{"linebreak", "newline"}), nil
	case `\`:
		return nil, &ParseError{Pos: t.pos, Msg: "Unexpected end of input after '\\'"}
	}
	if len(name) == 2 && !isLetter(rune(name[1])) {
		return leaf("mo", name[1:]), nil
	}
	return nil, &ParseError{Pos: t.pos, Msg: "Undefined control sequence: " + name}
}

// parseUntilChar reads atoms up to a closing character such as ']'.
func (p *parser) parseUntilChar(closing string) ([]*node, error) {
	var out []*node
	for {
		t := p.lex.lookahead()
		switch {
		case t.kind == tokEOF:
			return nil, &ParseError{Pos: t.pos, Msg: "Expected '" + closing + "'"}
		case t.kind == tokChar && t.text == closing:
			p.lex.next()
			return out, nil
		case t.kind == tokSpace:
			p.lex.next()
			continue
		}
		n, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
}

func (p *parser) delimiter() (string, error) {
	for p.lex.lookahead().kind == tokSpace {
		p.lex.next()
	}
	t := p.lex.next()
	switch t.kind {
	case tokChar:
		if t.text == "." {
			return "", nil
		}
		return t.text, nil
	case tokCommand:
		switch t.text {
		case `\{`, `\}`:
			return t.text[1:], nil
		case `\langle`:
			return "⟨", nil
		case `\rangle`:
			return "⟩", nil
		case `\vert`, `\|`:
			return "|", nil
		}
	}
	return "", &ParseError{Pos: t.pos, Msg: "Missing or unrecognized delimiter"}
}

func (p *parser) parseLeftRight(left token) (*node, error) {
	open, err := p.delimiter()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExpression(stopRight)
	if err != nil {
		return nil, err
	}
	t := p.lex.next()
	if t.kind != tokCommand || t.text != `\right` {
		return nil, &ParseError{Pos: left.pos, Msg: "Expected '\\right'"}
	}
	closing, err := p.delimiter()
	if err != nil {
		return nil, err
	}
	children := make([]*node, 0, len(body)+2)
	if open != "" {
		children = append(children, leaf("mo", open, [2]string{"fence", "true"}))
	}
	children = append(children, body...)
	if closing != "" {
		children = append(children, leaf("mo", closing, [2]string{"fence", "true"}))
	}
	return elem("mrow", children...), nil
}
