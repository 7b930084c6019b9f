package analysis

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distance-finder/internal/model"
)

// OrderStrategy returns the indices of criteria in the order they should be
// applied. It must be a permutation of 0..len(criteria)-1.
type OrderStrategy func(criteria []model.Criterion) []int

// RestrictiveFirst is the default heuristic: named locations before amenity
// categories, then distance < walk < bike < drive, then smaller values
// first. Ties keep submission order. It does not guarantee the cheapest
// order, only a likely one.
func RestrictiveFirst(criteria []model.Criterion) []int {
	idx := make([]int, len(criteria))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := criteria[idx[a]], criteria[idx[b]]
		if ka, kb := kindRank(ca.Kind), kindRank(cb.Kind); ka != kb {
			return ka < kb
		}
		if ma, mb := ca.Mode.Rank(), cb.Mode.Rank(); ma != mb {
			return ma < mb
		}
		return ca.Value < cb.Value
	})
	return idx
}

// SubmissionOrder applies criteria exactly as given.
func SubmissionOrder(criteria []model.Criterion) []int {
	idx := make([]int, len(criteria))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func kindRank(k model.CriterionKind) int {
	if k == model.KindLocation {
		return 0
	}
	return 1
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return eris.Errorf("analysis: order has %d entries for %d criteria", len(order), n)
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return eris.Errorf("analysis: order is not a permutation: %v", order)
		}
		seen[i] = true
	}
	return nil
}
