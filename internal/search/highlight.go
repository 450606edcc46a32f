package search

import (
	"strings"
	"unicode"
)

// Match levels reported in _highlightResult and _snippetResult.
const (
	MatchLevelNone    = "none"
	MatchLevelPartial = "partial"
	MatchLevelFull    = "full"
)

// HighlightEntry is the per-attribute payload of _highlightResult and
// _snippetResult.
type HighlightEntry struct {
	Value            string   `json:"value"`
	MatchLevel       string   `json:"matchLevel"`
	MatchedWords     []string `json:"matchedWords"`
	FullyHighlighted bool     `json:"fullyHighlighted,omitempty"`
}

// wordSpan is one word of the original text with its byte range.
type wordSpan struct {
	start, end int
	term       string
}

// scanWords finds the words of text with the same normalization the index
// applies, keeping byte offsets so the original casing and punctuation
// survive highlighting.
func scanWords(text string) []wordSpan {
	var spans []wordSpan
	var b strings.Builder
	start := -1
	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, wordSpan{start: start, end: end, term: b.String()})
			b.Reset()
			start = -1
		}
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush(i)
		}
	}
	flush(len(text))
	return spans
}

// highlightText wraps every word of text whose normalized form is in terms
// with the pre/post tags. It reports the highlighted value and whether every
// word of the text matched.
func highlightText(text string, terms map[string]struct{}, pre, post string) (string, bool) {
	spans := scanWords(text)
	if len(spans) == 0 {
		return text, false
	}
	var b strings.Builder
	cursor := 0
	matched := 0
	for _, span := range spans {
		b.WriteString(text[cursor:span.start])
		if _, ok := terms[span.term]; ok {
			matched++
			b.WriteString(pre)
			b.WriteString(text[span.start:span.end])
			b.WriteString(post)
		} else {
			b.WriteString(text[span.start:span.end])
		}
		cursor = span.end
	}
	b.WriteString(text[cursor:])
	return b.String(), matched == len(spans)
}

// snippetText trims text to a window of words around the first match, then
// highlights the window. A text with no match snippets from its start; the
// ellipsis marks trimmed edges.
func snippetText(text string, terms map[string]struct{}, pre, post, ellipsis string, window int) string {
	spans := scanWords(text)
	if len(spans) == 0 || window < 1 || len(spans) <= window {
		out, _ := highlightText(text, terms, pre, post)
		return out
	}
	first := 0
	for i, span := range spans {
		if _, ok := terms[span.term]; ok {
			first = i
			break
		}
	}
	// center the window on the first match without running off either end
	start := first - window/2
	if start+window > len(spans) {
		start = len(spans) - window
	}
	if start < 0 {
		start = 0
	}
	end := start + window
	fragment := text[spans[start].start:spans[end-1].end]
	out, _ := highlightText(fragment, terms, pre, post)
	if start > 0 {
		out = ellipsis + out
	}
	if end < len(spans) {
		out = out + ellipsis
	}
	return out
}
