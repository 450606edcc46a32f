package settings

import (
	"strings"

	"github.com/meridian-search/meridian/pkg/errors"
)

// Rule condition anchoring modes.
const (
	AnchorIs         = "is"
	AnchorStartsWith = "startsWith"
	AnchorEndsWith   = "endsWith"
	AnchorContains   = "contains"
)

// Rule rewrites queries that match one of its conditions: pinning hits,
// hiding hits, or forcing query parameters such as filters.
type Rule struct {
	ObjectID    string          `json:"objectID"`
	Conditions  []RuleCondition `json:"conditions"`
	Consequence RuleConsequence `json:"consequence"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Description string          `json:"description,omitempty"`
}

// RuleCondition matches the raw query string against a pattern.
type RuleCondition struct {
	Pattern   string `json:"pattern"`
	Anchoring string `json:"anchoring"`
}

// RuleConsequence is what a matched rule does to the query.
type RuleConsequence struct {
	Promote []PromotedObject `json:"promote,omitempty"`
	Hide    []HiddenObject   `json:"hide,omitempty"`
	Params  *RuleParams      `json:"params,omitempty"`
}

// PromotedObject pins a document at a fixed position in the results.
type PromotedObject struct {
	ObjectID string `json:"objectID"`
	Position int    `json:"position"`
}

// HiddenObject removes a document from the results.
type HiddenObject struct {
	ObjectID string `json:"objectID"`
}

// RuleParams are query parameters a consequence forces on the search.
type RuleParams struct {
	Filters string `json:"filters,omitempty"`
	Query   string `json:"query,omitempty"`
}

// IsEnabled reports whether the rule participates in query processing.
// Rules default to enabled when the flag is absent.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate checks a rule record before it enters the store.
func (r *Rule) Validate() error {
	if r.ObjectID == "" {
		return errors.New(errors.ErrValidation, 400, "rule is missing objectID")
	}
	if len(r.Conditions) == 0 {
		return errors.Newf(errors.ErrValidation, 400,
			"rule %s needs at least one condition", r.ObjectID)
	}
	for _, cond := range r.Conditions {
		switch cond.Anchoring {
		case AnchorIs, AnchorStartsWith, AnchorEndsWith, AnchorContains:
		default:
			return errors.Newf(errors.ErrValidation, 400,
				"rule %s has unknown anchoring %q", r.ObjectID, cond.Anchoring)
		}
	}
	empty := len(r.Consequence.Promote) == 0 && len(r.Consequence.Hide) == 0 &&
		(r.Consequence.Params == nil ||
			(r.Consequence.Params.Filters == "" && r.Consequence.Params.Query == ""))
	if empty {
		return errors.Newf(errors.ErrValidation, 400,
			"rule %s has an empty consequence", r.ObjectID)
	}
	for _, p := range r.Consequence.Promote {
		if p.ObjectID == "" {
			return errors.Newf(errors.ErrValidation, 400,
				"rule %s promotes an empty objectID", r.ObjectID)
		}
		if p.Position < 0 {
			return errors.Newf(errors.ErrValidation, 400,
				"rule %s promotes to a negative position", r.ObjectID)
		}
	}
	return nil
}

// Matches reports whether any condition of the rule matches the query.
// Matching is case-insensitive on the raw, untokenized query.
func (r *Rule) Matches(query string) bool {
	if !r.IsEnabled() {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for _, cond := range r.Conditions {
		p := strings.ToLower(cond.Pattern)
		var ok bool
		switch cond.Anchoring {
		case AnchorIs:
			ok = q == p
		case AnchorStartsWith:
			ok = strings.HasPrefix(q, p)
		case AnchorEndsWith:
			ok = strings.HasSuffix(q, p)
		case AnchorContains:
			ok = strings.Contains(q, p)
		}
		if ok {
			return true
		}
	}
	return false
}
