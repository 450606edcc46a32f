// Package settings holds the per-index configuration surface: which
// attributes are searchable and facetable, the ranking formula, typo
// tolerance, pagination defaults, and highlighting tags. The JSON field names
// follow the public wire format so existing API clients work unchanged.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridian-search/meridian/pkg/errors"
)

// Ranking criteria understood by the engine, in the order they may appear in
// the ranking formula.
const (
	CriterionTypo      = "typo"
	CriterionWords     = "words"
	CriterionProximity = "proximity"
	CriterionAttribute = "attribute"
	CriterionExact     = "exact"
	CriterionCustom    = "custom"
)

// DefaultRanking is the tie-break chain applied when an index has no explicit
// ranking formula.
var DefaultRanking = []string{
	CriterionExact,
	CriterionAttribute,
	CriterionProximity,
	CriterionTypo,
	CriterionCustom,
}

// Settings is the full per-index configuration. The zero value is not usable;
// call Default and overlay a client payload with ApplyJSON.
type Settings struct {
	// SearchableAttributes lists the attributes the engine tokenizes and
	// matches against, in priority order. Empty means every string attribute
	// is searchable with equal priority.
	SearchableAttributes []string `json:"searchableAttributes"`

	// AttributesForFaceting lists the attributes that get a facet index and
	// may appear in filters produced by rule consequences.
	AttributesForFaceting []string `json:"attributesForFaceting"`

	// Ranking is the ordered tie-break chain of criteria names.
	Ranking []string `json:"ranking"`

	// CustomRanking holds "asc(attr)" / "desc(attr)" modifiers evaluated by
	// the custom criterion.
	CustomRanking []string `json:"customRanking"`

	TypoTolerance        bool `json:"typoTolerance"`
	MinWordSizefor1Typo  int  `json:"minWordSizefor1Typo"`
	MinWordSizefor2Typos int  `json:"minWordSizefor2Typos"`

	HitsPerPage int `json:"hitsPerPage"`

	HighlightPreTag  string `json:"highlightPreTag"`
	HighlightPostTag string `json:"highlightPostTag"`

	// AttributesToSnippet holds "attr:wordCount" entries controlling the
	// _snippetResult payload.
	AttributesToSnippet []string `json:"attributesToSnippet"`

	SnippetEllipsisText string `json:"snippetEllipsisText"`
}

// Default returns the settings a fresh index starts from.
func Default() Settings {
	return Settings{
		SearchableAttributes:  []string{},
		AttributesForFaceting: []string{},
		Ranking:               append([]string(nil), DefaultRanking...),
		CustomRanking:         []string{},
		TypoTolerance:         true,
		MinWordSizefor1Typo:   4,
		MinWordSizefor2Typos:  8,
		HitsPerPage:           20,
		HighlightPreTag:       "<em>",
		HighlightPostTag:      "</em>",
		AttributesToSnippet:   []string{},
		SnippetEllipsisText:   "…",
	}
}

// ApplyJSON overlays a client settings payload on s. Attributes absent from
// the payload keep their current value, so partial updates accumulate.
func (s *Settings) ApplyJSON(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return errors.Newf(errors.ErrValidation, 400, "invalid settings JSON: %v", err)
	}
	return s.Validate()
}

// Validate rejects settings the engine cannot honor.
func (s *Settings) Validate() error {
	for _, criterion := range s.Ranking {
		switch criterion {
		case CriterionTypo, CriterionWords, CriterionProximity,
			CriterionAttribute, CriterionExact, CriterionCustom:
		default:
			return errors.Newf(errors.ErrValidation, 400,
				"unknown ranking criterion %q", criterion)
		}
	}
	for _, modifier := range s.CustomRanking {
		if _, _, err := ParseCustomRanking(modifier); err != nil {
			return err
		}
	}
	for _, entry := range s.AttributesToSnippet {
		if _, _, err := ParseSnippetAttribute(entry); err != nil {
			return err
		}
	}
	if s.MinWordSizefor1Typo < 1 {
		return errors.New(errors.ErrValidation, 400, "minWordSizefor1Typo must be at least 1")
	}
	if s.MinWordSizefor2Typos < s.MinWordSizefor1Typo {
		return errors.New(errors.ErrValidation, 400,
			"minWordSizefor2Typos must not be smaller than minWordSizefor1Typo")
	}
	if s.HitsPerPage < 1 {
		return errors.New(errors.ErrValidation, 400, "hitsPerPage must be at least 1")
	}
	return nil
}

// SearchablePriority returns the priority of attr in the searchable list
// (0 is highest) and whether attr is searchable at all. With an empty list
// every attribute is searchable at priority 0.
func (s *Settings) SearchablePriority(attr string) (int, bool) {
	if len(s.SearchableAttributes) == 0 {
		return 0, true
	}
	for i, candidate := range s.SearchableAttributes {
		if candidate == attr {
			return i, true
		}
	}
	return 0, false
}

// IsFacet reports whether attr has a facet index.
func (s *Settings) IsFacet(attr string) bool {
	for _, candidate := range s.AttributesForFaceting {
		if candidate == attr {
			return true
		}
	}
	return false
}

// TypoBudget returns the maximum edit distance allowed for a query word of
// the given length under these settings.
func (s *Settings) TypoBudget(wordLen int) int {
	if !s.TypoTolerance {
		return 0
	}
	switch {
	case wordLen >= s.MinWordSizefor2Typos:
		return 2
	case wordLen >= s.MinWordSizefor1Typo:
		return 1
	default:
		return 0
	}
}

// ParseCustomRanking splits an "asc(attr)" or "desc(attr)" modifier into its
// attribute and direction. Descending reports true for the second result.
func ParseCustomRanking(modifier string) (attr string, desc bool, err error) {
	switch {
	case strings.HasPrefix(modifier, "asc(") && strings.HasSuffix(modifier, ")"):
		return modifier[4 : len(modifier)-1], false, nil
	case strings.HasPrefix(modifier, "desc(") && strings.HasSuffix(modifier, ")"):
		return modifier[5 : len(modifier)-1], true, nil
	default:
		return "", false, errors.Newf(errors.ErrValidation, 400,
			"customRanking entry %q must be asc(attribute) or desc(attribute)", modifier)
	}
}

// ParseSnippetAttribute splits an "attr:wordCount" snippet entry. A bare
// attribute name returns zero words, meaning the server default applies.
func ParseSnippetAttribute(entry string) (attr string, words int, err error) {
	attr, spec, found := strings.Cut(entry, ":")
	if attr == "" {
		return "", 0, errors.Newf(errors.ErrValidation, 400,
			"attributesToSnippet entry %q is missing an attribute name", entry)
	}
	if !found {
		return attr, 0, nil
	}
	if _, scanErr := fmt.Sscanf(spec, "%d", &words); scanErr != nil || words < 1 {
		return "", 0, errors.Newf(errors.ErrValidation, 400,
			"attributesToSnippet entry %q has an invalid word count", entry)
	}
	return attr, words, nil
}
