package search

import (
	"strings"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/index"
	"github.com/meridian-search/meridian/internal/settings"
)

// proximityCap bounds the positional distance contributing to the proximity
// criterion; anything farther apart counts the same.
const proximityCap = 8

// wordHit is the match evidence for one query word in one document.
type wordHit struct {
	typos    int
	postings []index.Posting
	terms    map[string]struct{}
}

// docMatch carries a matched document through filtering and ranking.
type docMatch struct {
	id    string
	doc   document.Document
	words []*wordHit

	// criteria, filled by computeCriteria
	exact     int
	attribute int
	proximity int
	typos     int
	nbWords   int
}

// computeCriteria derives the ranking criteria from the per-word evidence.
func (d *docMatch) computeCriteria(st *settings.Settings) {
	d.attribute = int(^uint(0) >> 1)
	for _, w := range d.words {
		if w == nil {
			continue
		}
		d.nbWords++
		d.typos += w.typos
		if w.typos == 0 {
			d.exact++
		}
		for _, p := range w.postings {
			if prio, ok := st.SearchablePriority(p.Attribute); ok && prio < d.attribute {
				d.attribute = prio
			}
		}
	}
	if d.nbWords == 0 {
		d.attribute = 0
	}
	d.proximity = d.proximityCost()
}

// proximityCost sums, over consecutive query word pairs, the smallest
// positional distance between their occurrences within one attribute. Pairs
// never co-occurring in an attribute cost the cap.
func (d *docMatch) proximityCost() int {
	total := 0
	for i := 0; i+1 < len(d.words); i++ {
		a, b := d.words[i], d.words[i+1]
		if a == nil || b == nil {
			continue
		}
		best := proximityCap
		for _, pa := range a.postings {
			for _, pb := range b.postings {
				if pa.Attribute != pb.Attribute {
					continue
				}
				dist := pb.Position - pa.Position
				if dist < 0 {
					dist = -dist
				}
				if dist < best {
					best = dist
				}
			}
		}
		total += best
	}
	return total
}

// matchedTermsIn returns the index terms matched inside attr, for highlight
// wrapping.
func (d *docMatch) matchedTermsIn(attr string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range d.words {
		if w == nil {
			continue
		}
		for _, p := range w.postings {
			if p.Attribute == attr {
				for term := range w.terms {
					out[term] = struct{}{}
				}
			}
		}
	}
	return out
}

// customSpec is a parsed customRanking modifier.
type customSpec struct {
	attr string
	desc bool
}

func parseCustomSpecs(modifiers []string) []customSpec {
	specs := make([]customSpec, 0, len(modifiers))
	for _, m := range modifiers {
		attr, desc, err := settings.ParseCustomRanking(m)
		if err != nil {
			continue
		}
		specs = append(specs, customSpec{attr: attr, desc: desc})
	}
	return specs
}

// less orders two matches by the index's ranking formula, falling back to
// objectID so the order is total and stable across runs.
func less(a, b *docMatch, ranking []string, custom []customSpec) bool {
	for _, criterion := range ranking {
		switch criterion {
		case settings.CriterionExact:
			if a.exact != b.exact {
				return a.exact > b.exact
			}
		case settings.CriterionWords:
			if a.nbWords != b.nbWords {
				return a.nbWords > b.nbWords
			}
		case settings.CriterionAttribute:
			if a.attribute != b.attribute {
				return a.attribute < b.attribute
			}
		case settings.CriterionProximity:
			if a.proximity != b.proximity {
				return a.proximity < b.proximity
			}
		case settings.CriterionTypo:
			if a.typos != b.typos {
				return a.typos < b.typos
			}
		case settings.CriterionCustom:
			if cmp := compareCustom(a.doc, b.doc, custom); cmp != 0 {
				return cmp < 0
			}
		}
	}
	return a.id < b.id
}

// compareCustom walks the customRanking modifiers in order. Documents missing
// the attribute sort after documents carrying it, whatever the direction.
func compareCustom(a, b document.Document, specs []customSpec) int {
	for _, spec := range specs {
		va, okA := a[spec.attr]
		vb, okB := b[spec.attr]
		if !okA && !okB {
			continue
		}
		if okA != okB {
			if okA {
				return -1
			}
			return 1
		}
		cmp := compareValues(va, vb)
		if cmp == 0 {
			continue
		}
		if spec.desc {
			return -cmp
		}
		return cmp
	}
	return 0
}

func compareValues(a, b any) int {
	na, aNum := document.AsNumber(a)
	nb, bNum := document.AsNumber(b)
	if aNum && bNum {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(strings.ToLower(sa), strings.ToLower(sb))
	}
	// numbers sort before strings, everything else is unordered
	switch {
	case aNum && bStr:
		return -1
	case aStr && bNum:
		return 1
	default:
		return 0
	}
}
