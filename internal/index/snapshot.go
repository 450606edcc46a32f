// Package index holds the in-memory search structures of one index: the
// document table, the inverted term index, and the facet index, bundled into
// immutable snapshots. A single writer produces a new snapshot per applied
// task; readers hold whichever snapshot was current when their query started
// and never observe a partial write.
package index

import (
	"sort"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/settings"
)

// Posting records one occurrence of a term inside a document attribute.
type Posting struct {
	DocID     string
	Attribute string
	Position  int
}

// DocSet is a set of objectIDs.
type DocSet map[string]struct{}

// Snapshot is the immutable state of an index at one task boundary. Never
// mutate a snapshot after it is published; derive a new one with the With*
// methods.
type Snapshot struct {
	// Version is the id of the last task applied to this snapshot.
	Version uint64

	// Docs maps objectID to the stored document.
	Docs map[string]document.Document

	// Terms maps a normalized term to its postings.
	Terms map[string][]Posting

	// DocTerms maps objectID to the sorted unique terms the document
	// contributed, so a rewrite can retract exactly those postings.
	DocTerms map[string][]string

	// Facets maps facet attribute to value to the set of documents holding
	// that value.
	Facets map[string]map[string]DocSet

	Settings   settings.Settings
	Synonyms   []settings.Synonym
	SynonymMap settings.SynonymMap
	Rules      []settings.Rule
}

// Empty returns the snapshot of a fresh index.
func Empty() *Snapshot {
	return &Snapshot{
		Docs:     map[string]document.Document{},
		Terms:    map[string][]Posting{},
		DocTerms: map[string][]string{},
		Facets:   map[string]map[string]DocSet{},
		Settings: settings.Default(),
	}
}

// Rebuild constructs a snapshot from scratch. Settings changes go through
// here since searchable and facet attribute lists shape every structure.
func Rebuild(version uint64, docs map[string]document.Document, st settings.Settings,
	synonyms []settings.Synonym, rules []settings.Rule) *Snapshot {

	snap := &Snapshot{
		Version:  version,
		Docs:     make(map[string]document.Document, len(docs)),
		Terms:    map[string][]Posting{},
		DocTerms: make(map[string][]string, len(docs)),
		Facets:   map[string]map[string]DocSet{},
		Settings: st,
	}
	snap.setSynonyms(synonyms)
	snap.setRules(rules)
	b := &builder{snap: snap, dirtyTerms: map[string]bool{}, dirtyFacets: map[string]bool{}}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.upsert(docs[id])
	}
	return snap
}

// WithUpserts returns a snapshot with the given documents added or replaced.
func (s *Snapshot) WithUpserts(version uint64, docs []document.Document) *Snapshot {
	b := s.begin(version)
	for _, doc := range docs {
		b.upsert(doc)
	}
	return b.snap
}

// WithDeletes returns a snapshot with the given objectIDs removed. Unknown
// ids are ignored.
func (s *Snapshot) WithDeletes(version uint64, ids []string) *Snapshot {
	b := s.begin(version)
	for _, id := range ids {
		b.remove(id)
	}
	return b.snap
}

// WithSettings rebuilds the snapshot under new settings, keeping documents,
// synonyms, and rules.
func (s *Snapshot) WithSettings(version uint64, st settings.Settings) *Snapshot {
	return Rebuild(version, s.Docs, st, s.Synonyms, s.Rules)
}

// WithSynonyms returns a snapshot with the synonym records replaced.
func (s *Snapshot) WithSynonyms(version uint64, records []settings.Synonym) *Snapshot {
	out := s.shallowCopy(version)
	out.setSynonyms(records)
	return out
}

// WithRules returns a snapshot with the rule records replaced.
func (s *Snapshot) WithRules(version uint64, rules []settings.Rule) *Snapshot {
	out := s.shallowCopy(version)
	out.setRules(rules)
	return out
}

// Cleared returns a snapshot with every document removed. Settings, synonyms,
// and rules survive a clear.
func (s *Snapshot) Cleared(version uint64) *Snapshot {
	return Rebuild(version, nil, s.Settings, s.Synonyms, s.Rules)
}

// NumDocs returns the number of stored documents.
func (s *Snapshot) NumDocs() int { return len(s.Docs) }

// Postings returns the posting list of a term, nil when absent.
func (s *Snapshot) Postings(term string) []Posting { return s.Terms[term] }

func (s *Snapshot) setSynonyms(records []settings.Synonym) {
	s.Synonyms = append([]settings.Synonym(nil), records...)
	sort.Slice(s.Synonyms, func(i, j int) bool {
		return s.Synonyms[i].ObjectID < s.Synonyms[j].ObjectID
	})
	s.SynonymMap = settings.BuildSynonymMap(s.Synonyms)
}

func (s *Snapshot) setRules(rules []settings.Rule) {
	s.Rules = append([]settings.Rule(nil), rules...)
	sort.Slice(s.Rules, func(i, j int) bool {
		return s.Rules[i].ObjectID < s.Rules[j].ObjectID
	})
}

// shallowCopy clones the top-level maps so the builder can swap entries
// without touching the published snapshot. Inner slices and sets are shared
// until first write.
func (s *Snapshot) shallowCopy(version uint64) *Snapshot {
	out := &Snapshot{
		Version:    version,
		Docs:       make(map[string]document.Document, len(s.Docs)),
		Terms:      make(map[string][]Posting, len(s.Terms)),
		DocTerms:   make(map[string][]string, len(s.DocTerms)),
		Facets:     make(map[string]map[string]DocSet, len(s.Facets)),
		Settings:   s.Settings,
		Synonyms:   s.Synonyms,
		SynonymMap: s.SynonymMap,
		Rules:      s.Rules,
	}
	for k, v := range s.Docs {
		out.Docs[k] = v
	}
	for k, v := range s.Terms {
		out.Terms[k] = v
	}
	for k, v := range s.DocTerms {
		out.DocTerms[k] = v
	}
	for k, v := range s.Facets {
		out.Facets[k] = v
	}
	return out
}

func (s *Snapshot) begin(version uint64) *builder {
	return &builder{
		snap:        s.shallowCopy(version),
		dirtyTerms:  map[string]bool{},
		dirtyFacets: map[string]bool{},
	}
}

// builder mutates a snapshot under construction. Shared inner structures are
// copied on first write, tracked by the dirty sets.
type builder struct {
	snap        *Snapshot
	dirtyTerms  map[string]bool
	dirtyFacets map[string]bool
}

func (b *builder) upsert(doc document.Document) {
	id := doc.ObjectID()
	b.remove(id)
	b.snap.Docs[id] = doc

	termSet := map[string]struct{}{}
	for _, attr := range b.searchableAttrs(doc) {
		for _, text := range attributeText(doc[attr]) {
			for _, tok := range Tokenize(text) {
				b.mutableTerm(tok.Term)
				b.snap.Terms[tok.Term] = append(b.snap.Terms[tok.Term], Posting{
					DocID:     id,
					Attribute: attr,
					Position:  tok.Position,
				})
				termSet[tok.Term] = struct{}{}
			}
		}
	}
	terms := make([]string, 0, len(termSet))
	for term := range termSet {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	b.snap.DocTerms[id] = terms

	for _, attr := range b.snap.Settings.AttributesForFaceting {
		for _, value := range FacetValues(doc[attr]) {
			b.mutableFacet(attr, value)[id] = struct{}{}
		}
	}
}

func (b *builder) remove(id string) {
	doc, ok := b.snap.Docs[id]
	if !ok {
		return
	}
	for _, term := range b.snap.DocTerms[id] {
		b.mutableTerm(term)
		kept := b.snap.Terms[term][:0]
		for _, p := range b.snap.Terms[term] {
			if p.DocID != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(b.snap.Terms, term)
			delete(b.dirtyTerms, term)
		} else {
			b.snap.Terms[term] = kept
		}
	}
	for _, attr := range b.snap.Settings.AttributesForFaceting {
		for _, value := range FacetValues(doc[attr]) {
			set := b.mutableFacet(attr, value)
			delete(set, id)
			if len(set) == 0 {
				delete(b.snap.Facets[attr], value)
			}
		}
	}
	delete(b.snap.Docs, id)
	delete(b.snap.DocTerms, id)
}

// searchableAttrs lists the attributes of doc to tokenize, in priority order.
func (b *builder) searchableAttrs(doc document.Document) []string {
	if list := b.snap.Settings.SearchableAttributes; len(list) > 0 {
		return list
	}
	attrs := make([]string, 0, len(doc))
	for attr := range doc {
		if attr != document.IDAttribute {
			attrs = append(attrs, attr)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// mutableTerm makes the posting list of term safe to mutate in this builder.
func (b *builder) mutableTerm(term string) {
	if b.dirtyTerms[term] {
		return
	}
	b.snap.Terms[term] = append([]Posting(nil), b.snap.Terms[term]...)
	b.dirtyTerms[term] = true
}

// mutableFacet makes the doc set for attr=value safe to mutate, cloning the
// attribute's value map on first touch.
func (b *builder) mutableFacet(attr, value string) DocSet {
	if !b.dirtyFacets[attr] {
		values := make(map[string]DocSet, len(b.snap.Facets[attr]))
		for v, set := range b.snap.Facets[attr] {
			values[v] = set
		}
		b.snap.Facets[attr] = values
		b.dirtyFacets[attr] = true
	}
	key := attr + "\x00" + value
	if !b.dirtyFacets[key] {
		set := make(DocSet, len(b.snap.Facets[attr][value])+1)
		for id := range b.snap.Facets[attr][value] {
			set[id] = struct{}{}
		}
		b.snap.Facets[attr][value] = set
		b.dirtyFacets[key] = true
	}
	return b.snap.Facets[attr][value]
}
