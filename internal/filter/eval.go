package filter

import (
	"strings"

	"github.com/meridian-search/meridian/internal/document"
)

// Evaluate reports whether doc satisfies the predicate. A nil node (the
// absent filter) matches everything. A leaf referencing a missing attribute
// evaluates as false for every operator, != included; only an explicit NOT
// inverts that.
func Evaluate(n Node, doc document.Document) bool {
	if n == nil {
		return true
	}
	switch node := n.(type) {
	case *And:
		return Evaluate(node.Left, doc) && Evaluate(node.Right, doc)
	case *Or:
		return Evaluate(node.Left, doc) || Evaluate(node.Right, doc)
	case *Not:
		return !Evaluate(node.Expr, doc)
	case *Comparison:
		return evalComparison(node, doc)
	default:
		return false
	}
}

func evalComparison(c *Comparison, doc document.Document) bool {
	val, ok := doc[c.Field]
	if !ok {
		return false
	}
	if c.Op == OpNeq {
		return !valueMatches(OpEq, val, c.Value)
	}
	return valueMatches(c.Op, val, c.Value)
}

// valueMatches applies op between a document value and the literal. An
// array-valued attribute matches when any element does (facet-array
// semantics). Range operators are defined on numbers only.
func valueMatches(op Op, docVal any, lit Value) bool {
	if arr, ok := docVal.([]any); ok {
		for _, el := range arr {
			if valueMatches(op, el, lit) {
				return true
			}
		}
		return false
	}

	switch op {
	case OpEq:
		if lit.Kind == StringValue {
			s, ok := docVal.(string)
			return ok && strings.EqualFold(s, lit.Str)
		}
		num, ok := document.AsNumber(docVal)
		return ok && num == lit.Num
	case OpGt, OpGte, OpLt, OpLte:
		if lit.Kind != NumberValue {
			return false
		}
		num, ok := document.AsNumber(docVal)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return num > lit.Num
		case OpGte:
			return num >= lit.Num
		case OpLt:
			return num < lit.Num
		default:
			return num <= lit.Num
		}
	default:
		return false
	}
}
