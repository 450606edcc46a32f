package settings

import (
	"strings"

	"github.com/meridian-search/meridian/pkg/errors"
)

// Synonym types on the wire.
const (
	SynonymTypeMutual = "synonym"
	SynonymTypeOneWay = "onewaysynonym"
)

// Synonym is a query expansion record. A mutual synonym makes every word in
// Synonyms an alternative of every other; a one-way synonym expands Input
// into Synonyms without the reverse.
type Synonym struct {
	ObjectID string   `json:"objectID"`
	Type     string   `json:"type"`
	Synonyms []string `json:"synonyms"`
	Input    string   `json:"input,omitempty"`
}

// Validate checks a synonym record before it enters the store.
func (s *Synonym) Validate() error {
	if s.ObjectID == "" {
		return errors.New(errors.ErrValidation, 400, "synonym is missing objectID")
	}
	switch s.Type {
	case SynonymTypeMutual:
		if len(s.Synonyms) < 2 {
			return errors.Newf(errors.ErrValidation, 400,
				"synonym %s needs at least two entries", s.ObjectID)
		}
	case SynonymTypeOneWay:
		if s.Input == "" {
			return errors.Newf(errors.ErrValidation, 400,
				"onewaysynonym %s is missing input", s.ObjectID)
		}
		if len(s.Synonyms) == 0 {
			return errors.Newf(errors.ErrValidation, 400,
				"onewaysynonym %s needs at least one entry", s.ObjectID)
		}
	default:
		return errors.Newf(errors.ErrValidation, 400,
			"synonym %s has unknown type %q", s.ObjectID, s.Type)
	}
	return nil
}

// SynonymMap resolves a normalized query word to its alternatives.
type SynonymMap map[string][]string

// BuildSynonymMap flattens synonym records into a word-to-alternatives map.
// Keys and values are lowercased; an alternative never repeats the key.
func BuildSynonymMap(records []Synonym) SynonymMap {
	m := make(SynonymMap)
	add := func(from, to string) {
		from, to = strings.ToLower(from), strings.ToLower(to)
		if from == to {
			return
		}
		for _, existing := range m[from] {
			if existing == to {
				return
			}
		}
		m[from] = append(m[from], to)
	}
	for _, rec := range records {
		switch rec.Type {
		case SynonymTypeMutual:
			for _, a := range rec.Synonyms {
				for _, b := range rec.Synonyms {
					add(a, b)
				}
			}
		case SynonymTypeOneWay:
			for _, alt := range rec.Synonyms {
				add(rec.Input, alt)
			}
		}
	}
	return m
}

// Alternatives returns the expansion list for word, or nil.
func (m SynonymMap) Alternatives(word string) []string {
	return m[strings.ToLower(word)]
}
