// Package ranking selects the top-N corpus entries from a similarity row.
package ranking

import (
	"cmp"
	"slices"

	"github.com/brittybidari/FashionRecSys/internal/core"
)

// DefaultDuplicateEpsilon is the distance from 1.0 within which a score
// counts as a duplicate of the query.
const DefaultDuplicateEpsilon = 1e-6

// Options controls filtering applied before the top-N cut.
type Options struct {
	// Duplicates decides whether entries identical to the query are kept.
	Duplicates       core.DuplicatePolicy
	DuplicateEpsilon float64

	// MinScore drops entries scoring below it when MinScoreEnabled is set.
	MinScore        float64
	MinScoreEnabled bool
}

func (o Options) keep(score float64) bool {
	if o.MinScoreEnabled && score < o.MinScore {
		return false
	}
	if o.Duplicates == core.DuplicatesDrop {
		eps := o.DuplicateEpsilon
		if eps <= 0 {
			eps = DefaultDuplicateEpsilon
		}
		if score >= 1-eps {
			return false
		}
	}
	return true
}

func sortDescending(matches []core.Match) {
	slices.SortStableFunc(matches, func(a, b core.Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

// TopN returns up to n entries of row in descending score order. The entry
// at selfIndex is excluded by position in the row, never by rank. Equal
// scores keep ascending index order.
func TopN(row []float64, n, selfIndex int, opts Options) []core.Match {
	if n <= 0 || len(row) == 0 {
		return []core.Match{}
	}

	matches := make([]core.Match, 0, len(row))
	for i, s := range row {
		if i == selfIndex || !opts.keep(s) {
			continue
		}
		matches = append(matches, core.Match{Index: i, Score: s})
	}
	sortDescending(matches)

	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}

// TopNSubset ranks an explicit candidate set with the same rules as TopN.
// indices and scores are parallel; ties resolve by ascending index.
func TopNSubset(indices []int, scores []float64, n int, opts Options) []core.Match {
	if n <= 0 || len(indices) == 0 || len(indices) != len(scores) {
		return []core.Match{}
	}

	matches := make([]core.Match, 0, len(indices))
	for k, i := range indices {
		if !opts.keep(scores[k]) {
			continue
		}
		matches = append(matches, core.Match{Index: i, Score: scores[k]})
	}
	slices.SortFunc(matches, func(a, b core.Match) int { return cmp.Compare(a.Index, b.Index) })
	matches = slices.CompactFunc(matches, func(a, b core.Match) bool { return a.Index == b.Index })
	sortDescending(matches)

	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
