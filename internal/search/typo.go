package search

import (
	"sort"

	"github.com/meridian-search/meridian/internal/index"
)

// editDistance computes the optimal string alignment distance between two
// words (substitution, insertion, deletion, and adjacent transposition each
// cost 1), capped at max+1 so callers can reject early.
func editDistance(a, b string, max int) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > max {
		return max + 1
	}
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d := min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := prev2[j-2] + 1; t < d {
					d = t
				}
			}
			cur[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > max {
			return max + 1
		}
		prev2, prev, cur = prev, cur, prev2
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// candidate is one indexed term a query word may stand for, with the typo
// cost of the correction.
type candidate struct {
	term  string
	typos int
}

// typoCandidates scans the snapshot's term dictionary for terms within the
// typo budget of word. An exact hit always ranks first; the result is capped
// at limit entries, preferring fewer typos.
func typoCandidates(snap *index.Snapshot, word string, budget, limit int) []candidate {
	var exact, one, two []candidate
	if _, ok := snap.Terms[word]; ok {
		exact = append(exact, candidate{term: word, typos: 0})
	}
	if budget > 0 {
		for term := range snap.Terms {
			if term == word {
				continue
			}
			switch editDistance(word, term, budget) {
			case 1:
				one = append(one, candidate{term: term, typos: 1})
			case 2:
				if budget >= 2 {
					two = append(two, candidate{term: term, typos: 2})
				}
			}
		}
	}
	sort.Slice(one, func(i, j int) bool { return one[i].term < one[j].term })
	sort.Slice(two, func(i, j int) bool { return two[i].term < two[j].term })
	out := exact
	out = append(out, one...)
	out = append(out, two...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
