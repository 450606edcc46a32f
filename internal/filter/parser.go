package filter

import "strings"

// Parse compiles a filter expression into a predicate tree. Malformed input
// returns a *SyntaxError carrying the byte offset of the failure; Parse never
// panics. An empty (or all-whitespace) input returns nil with no error: the
// absent filter matches every document.
func Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxErr(tok.offset, "unexpected %s after expression", describe(tok))
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// keyword reports whether the current token is the given reserved word. Only
// bare identifiers qualify; a double-quoted spelling is always a field name.
func (p *parser) keyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokIdent && strings.EqualFold(tok.text, word)
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.keyword("NOT") {
		p.next()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: expr}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, syntaxErr(closing.offset, "expected ')'")
		}
		return expr, nil
	case tokIdent, tokQuotedIdent:
		return p.parseComparison()
	default:
		return nil, syntaxErr(tok.offset, "expected field name or '(', got %s", describe(tok))
	}
}

func (p *parser) parseComparison() (Node, error) {
	field := p.next()
	if field.kind == tokIdent && isKeyword(field.text) {
		// NOT/AND/OR reached atom position: the caller wrote something like
		// `AND = 'x'`. Double quotes force the identifier reading.
		return nil, syntaxErr(field.offset, "reserved word %q cannot be a field name; double-quote it", field.text)
	}
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, syntaxErr(opTok.offset, "expected comparison operator after field %q", field.text)
	}
	valTok := p.next()
	var value Value
	switch valTok.kind {
	case tokString:
		value = Value{Kind: StringValue, Str: valTok.text}
	case tokNumber:
		value = Value{Kind: NumberValue, Num: valTok.num}
	default:
		return nil, syntaxErr(valTok.offset, "expected quoted string or number, got %s", describe(valTok))
	}
	return &Comparison{Field: field.text, Op: Op(opTok.text), Value: value}, nil
}

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "string literal"
	case tokNumber:
		return "number"
	default:
		return "'" + tok.text + "'"
	}
}
