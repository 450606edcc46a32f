package index

import (
	"strconv"
	"strings"
	"unicode"
)

// Token is one normalized word extracted from an attribute value, with its
// word position within that value.
type Token struct {
	Term     string
	Position int
}

// Tokenize lowercases text and splits it on every rune that is neither a
// letter nor a digit. Positions count words, not bytes.
func Tokenize(text string) []Token {
	var tokens []Token
	var b strings.Builder
	pos := 0
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tokens = append(tokens, Token{Term: b.String(), Position: pos})
		b.Reset()
		pos++
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// TokenizeQuery returns the normalized terms of a query in order.
func TokenizeQuery(query string) []string {
	tokens := Tokenize(query)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

// attributeText flattens an attribute value into the strings worth indexing.
// Strings index as themselves, arrays index each element, everything else is
// skipped.
func attributeText(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// FacetValue renders an attribute value as a facet value string. The second
// result is false for values that cannot facet (objects, nil).
func FacetValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// FacetValues expands an attribute value into its facet value strings,
// flattening one level of array.
func FacetValues(v any) []string {
	if arr, ok := v.([]any); ok {
		var out []string
		for _, item := range arr {
			if s, ok := FacetValue(item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := FacetValue(v); ok {
		return []string{s}
	}
	return nil
}
