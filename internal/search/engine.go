// Package search runs queries against index snapshots: query expansion with
// synonyms and typo tolerance, filtering, tiered ranking, rule application,
// faceting, pagination, and highlighting.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/filter"
	"github.com/meridian-search/meridian/internal/index"
	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
	"github.com/meridian-search/meridian/pkg/logger"
	"github.com/meridian-search/meridian/pkg/metrics"
)

// Engine executes searches. It is stateless; all index data comes from the
// snapshot passed per query.
type Engine struct {
	cfg     config.EngineConfig
	metrics *metrics.Metrics
	cache   *Cache
	log     *slog.Logger
}

// NewEngine builds an engine. cache may be nil when the query cache is
// disabled; m may be nil in tests.
func NewEngine(cfg config.EngineConfig, m *metrics.Metrics, cache *Cache, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, metrics: m, cache: cache, log: log.With("component", "search")}
}

// Search runs a query against the index's current snapshot, consulting the
// query cache when one is configured.
func (e *Engine) Search(ctx context.Context, idx *index.Index, params Params) (*Result, error) {
	start := time.Now()
	snap := idx.Snapshot()

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, idx.Name, snap.Version, &params); ok {
			if e.metrics != nil {
				e.metrics.CacheHitsTotal.Inc()
			}
			cached.ProcessingTimeMS = int(time.Since(start).Milliseconds())
			return cached, nil
		}
		if e.metrics != nil {
			e.metrics.CacheMissesTotal.Inc()
		}
	}

	result, err := e.execute(ctx, snap, params)
	if err != nil {
		return nil, err
	}
	result.ProcessingTimeMS = int(time.Since(start).Milliseconds())

	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(idx.Name).Inc()
		e.metrics.SearchLatency.WithLabelValues(idx.Name).Observe(time.Since(start).Seconds())
		e.metrics.SearchHitsCount.Observe(float64(result.NbHits))
	}
	if e.cache != nil {
		e.cache.Set(ctx, idx.Name, snap.Version, &params, result)
	}
	logger.FromContext(ctx).Debug("search executed",
		"index", idx.Name,
		"query", params.Query,
		"nbHits", result.NbHits,
		"durationMs", result.ProcessingTimeMS)
	return result, nil
}

func (e *Engine) execute(ctx context.Context, snap *index.Snapshot, params Params) (*Result, error) {
	st := snap.Settings

	query, filters, promoted, hidden := applyRules(snap, &params)

	pred, err := e.compileFilters(filters)
	if err != nil {
		return nil, err
	}

	matches := e.match(snap, query, &params)
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	kept := matches[:0]
	for _, m := range matches {
		if hidden[m.id] {
			continue
		}
		if pred != nil && !filter.Evaluate(pred, m.doc) {
			continue
		}
		m.computeCriteria(&st)
		kept = append(kept, m)
	}
	matches = kept

	custom := parseCustomSpecs(st.CustomRanking)
	ranking := st.Ranking
	if len(ranking) == 0 {
		ranking = settings.DefaultRanking
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return less(matches[i], matches[j], ranking, custom)
	})
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	// facets cover the filtered set; a pinned promotion that failed the
	// filter must not leak into the counts
	facets := e.countFacets(snap, matches, params.Facets)

	matches = pinPromoted(snap, matches, promoted)

	result := e.paginate(snap, matches, &params, query)
	result.Facets = facets
	result.Query = params.Query
	result.Params = params.Encode()
	return result, nil
}

// applyRules merges the consequences of every rule matching the query, in
// objectID order. Later rules extend earlier ones: filters accumulate with
// AND, a replacement query wins last, promotes and hides accumulate.
func applyRules(snap *index.Snapshot, params *Params) (query, filters string, promoted []settings.PromotedObject, hidden map[string]bool) {
	query = params.Query
	filters = params.Filters
	hidden = map[string]bool{}
	for i := range snap.Rules {
		rule := &snap.Rules[i]
		if !rule.Matches(params.Query) {
			continue
		}
		c := rule.Consequence
		promoted = append(promoted, c.Promote...)
		for _, h := range c.Hide {
			hidden[h.ObjectID] = true
		}
		if c.Params != nil {
			if c.Params.Filters != "" {
				filters = combineFilters(filters, c.Params.Filters)
			}
			if c.Params.Query != "" {
				query = c.Params.Query
			}
		}
	}
	return query, filters, promoted, hidden
}

func combineFilters(a, b string) string {
	if a == "" {
		return b
	}
	return fmt.Sprintf("(%s) AND (%s)", a, b)
}

func (e *Engine) compileFilters(filters string) (filter.Node, error) {
	pred, err := filter.Parse(filters)
	if err != nil {
		return nil, err
	}
	if max := e.cfg.MaxFilterClauses; max > 0 && filter.CountClauses(pred) > max {
		return nil, errors.Newf(errors.ErrValidation, 400,
			"filter expression exceeds %d clauses", max)
	}
	return pred, nil
}

// match finds the documents containing every query word, where a word also
// counts as contained through a synonym or a correction within its typo
// budget. An empty query matches the whole index.
func (e *Engine) match(snap *index.Snapshot, query string, params *Params) []*docMatch {
	terms := index.TokenizeQuery(query)
	if len(terms) == 0 {
		out := make([]*docMatch, 0, len(snap.Docs))
		for id, doc := range snap.Docs {
			out = append(out, &docMatch{id: id, doc: doc})
		}
		return out
	}

	st := snap.Settings
	if params.TypoTolerance != nil && !*params.TypoTolerance {
		st.TypoTolerance = false
	}

	perWord := make([]map[string]*wordHit, len(terms))
	for i, word := range terms {
		// synonym alternatives come first: each indexed token joins at no
		// typo cost, even when it also sits inside the typo budget
		var candidates []candidate
		for _, alt := range snap.SynonymMap.Alternatives(word) {
			for _, altTerm := range index.TokenizeQuery(alt) {
				if _, ok := snap.Terms[altTerm]; ok {
					candidates = append(candidates, candidate{term: altTerm, typos: 0})
				}
			}
		}
		candidates = append(candidates,
			typoCandidates(snap, word, st.TypoBudget(len([]rune(word))), e.cfg.MaxTypoCandidates)...)
		hits := map[string]*wordHit{}
		seen := map[string]bool{}
		for _, cand := range candidates {
			if seen[cand.term] {
				continue
			}
			seen[cand.term] = true
			for _, p := range snap.Postings(cand.term) {
				h, ok := hits[p.DocID]
				if !ok {
					h = &wordHit{typos: cand.typos, terms: map[string]struct{}{}}
					hits[p.DocID] = h
				}
				if cand.typos < h.typos {
					h.typos = cand.typos
				}
				h.postings = append(h.postings, p)
				h.terms[cand.term] = struct{}{}
			}
		}
		perWord[i] = hits
	}

	// intersect starting from the rarest word
	smallest := 0
	for i, hits := range perWord {
		if len(hits) < len(perWord[smallest]) {
			smallest = i
		}
	}
	var out []*docMatch
	for id := range perWord[smallest] {
		words := make([]*wordHit, len(terms))
		complete := true
		for i, hits := range perWord {
			h, ok := hits[id]
			if !ok {
				complete = false
				break
			}
			words[i] = h
		}
		if complete {
			out = append(out, &docMatch{id: id, doc: snap.Docs[id], words: words})
		}
	}
	return out
}

// pinPromoted inserts promoted documents at their requested positions and
// drops them from wherever they ranked organically. Promotions apply even
// when the document did not match the query, as long as it exists.
func pinPromoted(snap *index.Snapshot, matches []*docMatch, promoted []settings.PromotedObject) []*docMatch {
	if len(promoted) == 0 {
		return matches
	}
	pinned := map[string]bool{}
	var pins []settings.PromotedObject
	for _, p := range promoted {
		if pinned[p.ObjectID] {
			continue
		}
		if _, ok := snap.Docs[p.ObjectID]; !ok {
			continue
		}
		pinned[p.ObjectID] = true
		pins = append(pins, p)
	}
	if len(pins) == 0 {
		return matches
	}
	organic := matches[:0]
	for _, m := range matches {
		if !pinned[m.id] {
			organic = append(organic, m)
		}
	}
	sort.SliceStable(pins, func(i, j int) bool { return pins[i].Position < pins[j].Position })
	out := organic
	for _, p := range pins {
		m := &docMatch{id: p.ObjectID, doc: snap.Docs[p.ObjectID]}
		pos := p.Position
		if pos > len(out) {
			pos = len(out)
		}
		out = append(out, nil)
		copy(out[pos+1:], out[pos:])
		out[pos] = m
	}
	return out
}

// countFacets tallies facet values over the full filtered result set, before
// pagination and before promotions are pinned. "*" expands to every
// configured facet attribute.
func (e *Engine) countFacets(snap *index.Snapshot, matches []*docMatch, requested []string) map[string]map[string]int {
	if len(requested) == 0 {
		return nil
	}
	attrs := requested
	if len(requested) == 1 && requested[0] == "*" {
		attrs = snap.Settings.AttributesForFaceting
	}
	resultSet := make(index.DocSet, len(matches))
	for _, m := range matches {
		resultSet[m.id] = struct{}{}
	}
	out := make(map[string]map[string]int, len(attrs))
	for _, attr := range attrs {
		values, ok := snap.Facets[attr]
		if !ok {
			if snap.Settings.IsFacet(attr) {
				out[attr] = map[string]int{}
			}
			continue
		}
		counts := map[string]int{}
		for value, set := range values {
			n := 0
			for id := range set {
				if _, ok := resultSet[id]; ok {
					n++
				}
			}
			if n > 0 {
				counts[value] = n
			}
		}
		if max := e.cfg.MaxFacetValues; max > 0 && len(counts) > max {
			counts = topFacetValues(counts, max)
		}
		out[attr] = counts
	}
	return out
}

// topFacetValues keeps the max highest-count values, breaking count ties by
// value so the cut is deterministic.
func topFacetValues(counts map[string]int, max int) map[string]int {
	type entry struct {
		value string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].value < entries[j].value
	})
	out := make(map[string]int, max)
	for _, e := range entries[:max] {
		out[e.value] = e.count
	}
	return out
}

// paginate slices the ranked matches into the requested page and builds the
// hit payloads.
func (e *Engine) paginate(snap *index.Snapshot, matches []*docMatch, params *Params, query string) *Result {
	st := snap.Settings
	hitsPerPage := st.HitsPerPage
	if params.HitsPerPage != nil {
		hitsPerPage = *params.HitsPerPage
	}
	if max := e.cfg.MaxHitsPerPage; max > 0 && hitsPerPage > max {
		hitsPerPage = max
	}
	page := 0
	if params.Page != nil {
		page = *params.Page
	}

	nbHits := len(matches)
	reachable := nbHits
	if limit := e.cfg.PaginationLimit; limit > 0 && reachable > limit {
		reachable = limit
	}
	nbPages := int(math.Ceil(float64(reachable) / float64(hitsPerPage)))

	start := page * hitsPerPage
	end := start + hitsPerPage
	if end > reachable {
		end = reachable
	}
	if start > end {
		start, end = 0, 0
	}

	queryTerms := index.TokenizeQuery(query)
	hits := make([]Hit, 0, end-start)
	for _, m := range matches[start:end] {
		hits = append(hits, e.buildHit(snap, m, params, queryTerms))
	}
	return &Result{
		Hits:             hits,
		NbHits:           nbHits,
		Page:             page,
		NbPages:          nbPages,
		HitsPerPage:      hitsPerPage,
		ExhaustiveNbHits: true,
	}
}

// buildHit assembles one response hit: the retrieved attributes plus the
// _highlightResult and _snippetResult payloads.
func (e *Engine) buildHit(snap *index.Snapshot, m *docMatch, params *Params, queryTerms []string) Hit {
	st := snap.Settings
	hit := Hit{}
	if len(params.AttributesToRetrieve) == 0 {
		for attr, v := range m.doc {
			hit[attr] = v
		}
	} else {
		hit[document.IDAttribute] = m.id
		for _, attr := range params.AttributesToRetrieve {
			if attr == "*" {
				for a, v := range m.doc {
					hit[a] = v
				}
				continue
			}
			if v, ok := m.doc[attr]; ok {
				hit[attr] = v
			}
		}
	}

	highlightAttrs := params.AttributesToHighlight
	if len(highlightAttrs) == 0 {
		highlightAttrs = e.defaultHighlightAttrs(snap, m.doc)
	}
	if len(highlightAttrs) > 0 {
		hr := map[string]any{}
		for _, attr := range highlightAttrs {
			if entry, ok := e.highlightAttr(m, &st, attr, queryTerms); ok {
				hr[attr] = entry
			}
		}
		if len(hr) > 0 {
			hit["_highlightResult"] = hr
		}
	}

	if len(st.AttributesToSnippet) > 0 {
		sr := map[string]any{}
		for _, spec := range st.AttributesToSnippet {
			attr, words, err := settings.ParseSnippetAttribute(spec)
			if err != nil {
				continue
			}
			if words < 1 {
				words = e.cfg.SnippetWords
			}
			if entry, ok := e.snippetAttr(m, &st, attr, words, queryTerms); ok {
				sr[attr] = entry
			}
		}
		if len(sr) > 0 {
			hit["_snippetResult"] = sr
		}
	}
	return hit
}

func (e *Engine) defaultHighlightAttrs(snap *index.Snapshot, doc document.Document) []string {
	if list := snap.Settings.SearchableAttributes; len(list) > 0 {
		return list
	}
	attrs := make([]string, 0, len(doc))
	for attr, v := range doc {
		if attr == document.IDAttribute {
			continue
		}
		switch v.(type) {
		case string, []any:
			attrs = append(attrs, attr)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// highlightAttr builds the _highlightResult entry for one attribute. Array
// attributes produce an array of entries.
func (e *Engine) highlightAttr(m *docMatch, st *settings.Settings, attr string, queryTerms []string) (any, bool) {
	v, ok := m.doc[attr]
	if !ok {
		return nil, false
	}
	terms := m.matchedTermsIn(attr)
	matched := matchedQueryWords(m, attr, queryTerms)

	build := func(text string) HighlightEntry {
		value, full := highlightText(text, terms, st.HighlightPreTag, st.HighlightPostTag)
		return HighlightEntry{
			Value:            value,
			MatchLevel:       matchLevel(len(matched), len(queryTerms)),
			MatchedWords:     matched,
			FullyHighlighted: full && len(matched) > 0,
		}
	}
	switch val := v.(type) {
	case string:
		return build(val), true
	case []any:
		entries := make([]HighlightEntry, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				entries = append(entries, build(s))
			}
		}
		if len(entries) == 0 {
			return nil, false
		}
		return entries, true
	default:
		return nil, false
	}
}

func (e *Engine) snippetAttr(m *docMatch, st *settings.Settings, attr string, words int, queryTerms []string) (any, bool) {
	v, ok := m.doc[attr]
	if !ok {
		return nil, false
	}
	text, ok := v.(string)
	if !ok {
		return nil, false
	}
	terms := m.matchedTermsIn(attr)
	matched := matchedQueryWords(m, attr, queryTerms)
	return HighlightEntry{
		Value: snippetText(text, terms, st.HighlightPreTag, st.HighlightPostTag,
			st.SnippetEllipsisText, words),
		MatchLevel:   matchLevel(len(matched), len(queryTerms)),
		MatchedWords: matched,
	}, true
}

// matchedQueryWords lists the query words whose match evidence includes attr,
// preserving query order.
func matchedQueryWords(m *docMatch, attr string, queryTerms []string) []string {
	matched := make([]string, 0, len(queryTerms))
	for i, w := range m.words {
		if w == nil || i >= len(queryTerms) {
			continue
		}
		for _, p := range w.postings {
			if p.Attribute == attr {
				matched = append(matched, queryTerms[i])
				break
			}
		}
	}
	return matched
}

func matchLevel(matched, total int) string {
	switch {
	case total == 0 || matched == 0:
		return MatchLevelNone
	case matched == total:
		return MatchLevelFull
	default:
		return MatchLevelPartial
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.New(errors.ErrTimeout, 504, "query cancelled")
	default:
		return nil
	}
}
