package filter

import (
	"fmt"
	"strconv"

	"github.com/meridian-search/meridian/pkg/errors"
)

// SyntaxError reports a malformed filter expression. Offset is the byte
// position of the failure in the original input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter syntax error at offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return errors.ErrFilterSyntax
}

func syntaxErr(offset int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	text   string
	num    float64
	offset int
}

// lex tokenizes the input. Identifiers are maximal runs of letters, digits
// and underscores, so keyword boundary checking falls out of tokenization:
// NOTfoo arrives as a single identifier token.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)
	for i < n {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", offset: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", offset: i})
			i++
		case c == '=':
			tokens = append(tokens, token{kind: tokOp, text: "=", offset: i})
			i++
		case c == '!':
			if i+1 >= n || input[i+1] != '=' {
				return nil, syntaxErr(i, "expected '=' after '!'")
			}
			tokens = append(tokens, token{kind: tokOp, text: "!=", offset: i})
			i += 2
		case c == '>' || c == '<':
			op := string(c)
			start := i
			i++
			if i < n && input[i] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{kind: tokOp, text: op, offset: start})
		case c == '\'':
			tok, next, err := lexString(input, i, '\'')
			if err != nil {
				return nil, err
			}
			tok.kind = tokString
			tokens = append(tokens, tok)
			i = next
		case c == '"':
			tok, next, err := lexString(input, i, '"')
			if err != nil {
				return nil, err
			}
			tok.kind = tokQuotedIdent
			tokens = append(tokens, tok)
			i = next
		case isDigit(c), c == '-', c == '+':
			tok, next, err := lexNumber(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		case isIdentByte(c):
			start := i
			for i < n && isIdentByte(input[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: input[start:i], offset: start})
		default:
			return nil, syntaxErr(i, "unexpected character %q", c)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, offset: n})
	return tokens, nil
}

// lexString scans a quoted literal starting at the opening quote. Backslash
// escapes the quote character and itself.
func lexString(input string, start int, quote byte) (token, int, error) {
	i := start + 1
	n := len(input)
	var sb []byte
	for i < n {
		c := input[i]
		if c == '\\' && i+1 < n && (input[i+1] == quote || input[i+1] == '\\') {
			sb = append(sb, input[i+1])
			i += 2
			continue
		}
		if c == quote {
			return token{text: string(sb), offset: start}, i + 1, nil
		}
		sb = append(sb, c)
		i++
	}
	return token{}, 0, syntaxErr(start, "unterminated string")
}

// lexNumber scans an integer or decimal literal with optional sign. Exponent
// form is not part of the grammar.
func lexNumber(input string, start int) (token, int, error) {
	i := start
	n := len(input)
	if input[i] == '-' || input[i] == '+' {
		i++
	}
	digits := 0
	for i < n && isDigit(input[i]) {
		i++
		digits++
	}
	if i < n && input[i] == '.' {
		i++
		for i < n && isDigit(input[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return token{}, 0, syntaxErr(start, "malformed number")
	}
	text := input[start:i]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, syntaxErr(start, "malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, num: num, offset: start}, i, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
