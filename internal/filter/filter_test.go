package filter

import (
	"errors"
	"strings"
	"testing"

	"github.com/meridian-search/meridian/internal/document"
	pkgerrors "github.com/meridian-search/meridian/pkg/errors"
)

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	node, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return node
}

func TestParseEmptyFilterMatchesEverything(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		node, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		if node != nil {
			t.Errorf("Parse(%q) = %v, want nil", input, node)
		}
		if !Evaluate(node, document.Document{"a": "b"}) {
			t.Errorf("nil predicate must match every document")
		}
	}
}

func TestParsePrecedence(t *testing.T) {
	// NOT binds tighter than AND, AND tighter than OR.
	node := mustParse(t, "a = 1 OR b = 2 AND NOT c = 3")
	or, ok := node.(*Or)
	if !ok {
		t.Fatalf("root = %T, want *Or", node)
	}
	and, ok := or.Right.(*And)
	if !ok {
		t.Fatalf("or.Right = %T, want *And", or.Right)
	}
	if _, ok := and.Right.(*Not); !ok {
		t.Fatalf("and.Right = %T, want *Not", and.Right)
	}
}

func TestParensResetPrecedence(t *testing.T) {
	node := mustParse(t, "(a = 1 OR b = 2) AND c = 3")
	if _, ok := node.(*And); !ok {
		t.Fatalf("root = %T, want *And", node)
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	doc := document.Document{"brand": "Apple", "price": float64(999)}
	for _, input := range []string{
		"brand = 'Apple' and price > 500",
		"brand = 'Apple' AND price > 500",
		"nOt brand = 'Samsung'",
	} {
		node := mustParse(t, input)
		if !Evaluate(node, doc) {
			t.Errorf("Evaluate(%q) = false, want true", input)
		}
	}
}

func TestKeywordPrefixIsIdentifier(t *testing.T) {
	// NOT foo = 'x' negates; NOTfoo = 'x' compares the field NOTfoo.
	negation := mustParse(t, "NOT foo = 'x'")
	if _, ok := negation.(*Not); !ok {
		t.Fatalf("NOT foo: root = %T, want *Not", negation)
	}

	comparison := mustParse(t, "NOTfoo = 'x'")
	leaf, ok := comparison.(*Comparison)
	if !ok {
		t.Fatalf("NOTfoo: root = %T, want *Comparison", comparison)
	}
	if leaf.Field != "NOTfoo" {
		t.Errorf("field = %q, want NOTfoo", leaf.Field)
	}

	for input, field := range map[string]string{
		"ANDroid = 'pie'": "ANDroid",
		"ORder = 'first'": "ORder",
		"NOTed > 3":       "NOTed",
	} {
		leaf, ok := mustParse(t, input).(*Comparison)
		if !ok || leaf.Field != field {
			t.Errorf("Parse(%q): got %v, want comparison on %q", input, mustParse(t, input), field)
		}
	}
}

func TestQuotedKeywordIsField(t *testing.T) {
	node := mustParse(t, `"OR" = 'x'`)
	leaf, ok := node.(*Comparison)
	if !ok {
		t.Fatalf("root = %T, want *Comparison", node)
	}
	if leaf.Field != "OR" {
		t.Errorf("field = %q, want OR", leaf.Field)
	}
	if !Evaluate(node, document.Document{"OR": "x"}) {
		t.Error("quoted keyword field did not evaluate")
	}
}

func TestBareKeywordAsFieldIsError(t *testing.T) {
	if _, err := Parse("AND = 'x'"); err == nil {
		t.Error("expected error for bare keyword at field position")
	}
}

func TestSyntaxErrorsCarryOffset(t *testing.T) {
	tests := []struct {
		input     string
		minOffset int
	}{
		{"brand = ", 8},
		{"(brand = 'x'", 12},
		{"brand 'x'", 6},
		{"brand = 'unterminated", 8},
		{"price > 1.2.3", 11},
		{"brand = 'x') ", 11},
		{"brand ! 'x'", 6},
	}
	for _, tc := range tests {
		_, err := Parse(tc.input)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tc.input)
			continue
		}
		var synErr *SyntaxError
		if !errors.As(err, &synErr) {
			t.Errorf("Parse(%q): error %T is not *SyntaxError", tc.input, err)
			continue
		}
		if !errors.Is(err, pkgerrors.ErrFilterSyntax) {
			t.Errorf("Parse(%q): error does not wrap ErrFilterSyntax", tc.input)
		}
		if synErr.Offset < 0 || synErr.Offset > len(tc.input) {
			t.Errorf("Parse(%q): offset %d out of range", tc.input, synErr.Offset)
		}
	}
}

func TestPrintRoundTrip(t *testing.T) {
	docs := []document.Document{
		{"objectID": "1", "brand": "Apple", "price": float64(999), "tags": []any{"new", "pro"}},
		{"objectID": "2", "brand": "Samsung", "price": float64(899)},
		{"objectID": "3", "price": float64(100.5)},
		{"objectID": "4"},
	}
	inputs := []string{
		"brand = 'Apple'",
		"NOT brand = 'Apple'",
		"price >= 100 AND price <= 500",
		"(brand = 'Apple' OR brand = 'Samsung') AND price < 1000",
		"NOT (brand = 'Apple' AND price > 500) OR tags = 'new'",
		`"OR" != 'x' AND price > -1.5`,
		"NOTfoo = 'x' OR price <= 999",
	}
	for _, input := range inputs {
		first := mustParse(t, input)
		second := mustParse(t, first.String())
		for _, doc := range docs {
			got, want := Evaluate(second, doc), Evaluate(first, doc)
			if got != want {
				t.Errorf("round trip of %q changed semantics on %s: %v != %v",
					input, doc.ObjectID(), got, want)
			}
		}
	}
}

func TestTautologyAndContradiction(t *testing.T) {
	predicates := []string{
		"brand = 'Apple'",
		"price > 100",
		"missing = 'x'",
		"tags = 'new'",
	}
	docs := []document.Document{
		{"objectID": "1", "brand": "Apple", "price": float64(999), "tags": []any{"new"}},
		{"objectID": "2", "brand": "Samsung", "price": float64(50)},
		{"objectID": "3"},
	}
	for _, p := range predicates {
		contradiction := mustParse(t, "("+p+") AND NOT ("+p+")")
		tautology := mustParse(t, "("+p+") OR NOT ("+p+")")
		for _, doc := range docs {
			if Evaluate(contradiction, doc) {
				t.Errorf("P AND NOT P held for %q on %s", p, doc.ObjectID())
			}
			if !Evaluate(tautology, doc) {
				t.Errorf("P OR NOT P failed for %q on %s", p, doc.ObjectID())
			}
		}
	}
}

func TestRangeIdiom(t *testing.T) {
	inclusive := mustParse(t, "price >= 100 AND price <= 500")
	exclusive := mustParse(t, "price > 100 AND price < 500")

	cases := []struct {
		price          float64
		inclusiveMatch bool
		exclusiveMatch bool
	}{
		{99.99, false, false},
		{100, true, false},
		{100.01, true, true},
		{300, true, true},
		{499.99, true, true},
		{500, true, false},
		{500.01, false, false},
	}
	for _, tc := range cases {
		doc := document.Document{"price": tc.price}
		if got := Evaluate(inclusive, doc); got != tc.inclusiveMatch {
			t.Errorf("inclusive range at %v = %v, want %v", tc.price, got, tc.inclusiveMatch)
		}
		if got := Evaluate(exclusive, doc); got != tc.exclusiveMatch {
			t.Errorf("exclusive range at %v = %v, want %v", tc.price, got, tc.exclusiveMatch)
		}
	}
}

func TestEqualitySemantics(t *testing.T) {
	doc := document.Document{
		"brand": "Apple",
		"price": float64(999),
		"tags":  []any{"Phone", "Pro"},
	}
	tests := []struct {
		input string
		want  bool
	}{
		{"brand = 'apple'", true}, // case-insensitive on strings
		{"brand = 'APPLE'", true},
		{"brand = 'Samsung'", false},
		{"brand != 'Samsung'", true},
		{"brand != 'apple'", false},
		{"price = 999", true},
		{"price = 999.0", true},
		{"price != 999", false},
		{"brand = 999", false},   // string attribute vs numeric literal
		{"brand > 100", false},   // range on non-numeric attribute
		{"tags = 'phone'", true}, // any array element
		{"tags = 'tablet'", false},
		{"missing = 'x'", false},
		{"missing != 'x'", false}, // missing attribute: every leaf false
		{"NOT missing = 'x'", true},
		{"missing > 10", false},
	}
	for _, tc := range tests {
		if got := Evaluate(mustParse(t, tc.input), doc); got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestCountClauses(t *testing.T) {
	node := mustParse(t, "a = 1 AND (b = 2 OR NOT c = 3)")
	if got := CountClauses(node); got != 3 {
		t.Errorf("CountClauses = %d, want 3", got)
	}
}

func TestDeeplyNestedParens(t *testing.T) {
	input := strings.Repeat("(", 50) + "a = 1" + strings.Repeat(")", 50)
	if _, err := Parse(input); err != nil {
		t.Fatalf("deeply nested parens failed: %v", err)
	}
}
