// Package filter implements the boolean filter-expression language: a lexer
// and backtracking recursive-descent parser producing a predicate tree, an
// evaluator over document attributes, and a printer whose output re-parses to
// an equivalent tree.
//
// Grammar, loosest binding first:
//
//	expr       := or
//	or         := and ( OR and )*
//	and        := unary ( AND unary )*
//	unary      := NOT unary | atom
//	atom       := '(' expr ')' | comparison
//	comparison := field op value
//	field      := identifier | '"' any '"'
//	op         := '=' | '!=' | '>' | '>=' | '<' | '<='
//	value      := '\'' string '\'' | number
//
// NOT, AND and OR are case-insensitive and reserved only when they form a
// complete token; NOTfoo, ANDroid and ORder are ordinary identifiers. A
// double-quoted field name is never treated as a keyword.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a comparison operator in a leaf predicate.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// ValueKind discriminates the literal type of a comparison value.
type ValueKind int

const (
	StringValue ValueKind = iota
	NumberValue
)

// Value is a literal on the right-hand side of a comparison.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// Node is a node of the compiled predicate tree.
type Node interface {
	// String renders the node back to filter syntax. Parsing the result
	// yields an equivalent predicate.
	String() string
}

// Comparison is a leaf predicate: field op value.
type Comparison struct {
	Field string
	Op    Op
	Value Value
}

// And is the conjunction of two predicates.
type And struct {
	Left, Right Node
}

// Or is the disjunction of two predicates.
type Or struct {
	Left, Right Node
}

// Not negates a predicate.
type Not struct {
	Expr Node
}

var bareField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Comparison) String() string {
	field := c.Field
	if !bareField.MatchString(field) || isKeyword(field) {
		field = `"` + strings.ReplaceAll(field, `"`, `\"`) + `"`
	}
	return fmt.Sprintf("%s %s %s", field, c.Op, c.Value)
}

func (v Value) String() string {
	if v.Kind == StringValue {
		escaped := strings.ReplaceAll(v.Str, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `'`, `\'`)
		return "'" + escaped + "'"
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

func (a *And) String() string {
	return fmt.Sprintf("(%s AND %s)", a.Left, a.Right)
}

func (o *Or) String() string {
	return fmt.Sprintf("(%s OR %s)", o.Left, o.Right)
}

func (n *Not) String() string {
	return fmt.Sprintf("NOT %s", wrapAtom(n.Expr))
}

func wrapAtom(n Node) string {
	if _, ok := n.(*Comparison); ok {
		return n.String()
	}
	s := n.String()
	if strings.HasPrefix(s, "(") {
		return s
	}
	return "(" + s + ")"
}

func isKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "NOT", "AND", "OR":
		return true
	}
	return false
}

// CountClauses returns the number of leaf comparisons in the tree. The query
// engine rejects filters whose clause count exceeds its configured limit.
func CountClauses(n Node) int {
	switch node := n.(type) {
	case *Comparison:
		return 1
	case *And:
		return CountClauses(node.Left) + CountClauses(node.Right)
	case *Or:
		return CountClauses(node.Left) + CountClauses(node.Right)
	case *Not:
		return CountClauses(node.Expr)
	default:
		return 0
	}
}
