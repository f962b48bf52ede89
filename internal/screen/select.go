package screen

import (
	"math"
	"sort"

	domain "qrscreen/domain/screen"
)

// BuildSelection derives the three candidate sets from one adjusted
// ranking. The sets are independent views over the same ordering and may
// overlap arbitrarily; they must be rebuilt whenever the adjusted values
// change.
func BuildSelection(adjusted []float64, threshold float64, topCount int, topPercent float64) domain.Selection {
	n := len(adjusted)
	sel := domain.Selection{
		Threshold:  threshold,
		TopCount:   topCount,
		TopPercent: topPercent,
	}

	// NaN comparisons fail, so undefined predictors never pass the cutoff.
	for i, p := range adjusted {
		if p < threshold {
			sel.ByThreshold = append(sel.ByThreshold, i)
		}
	}

	// Ranking: adjusted ascending, NaN last, ties broken by input order.
	rank := make([]int, n)
	for i := range rank {
		rank[i] = i
	}
	sort.SliceStable(rank, func(a, b int) bool {
		pa, pb := adjusted[rank[a]], adjusted[rank[b]]
		switch {
		case math.IsNaN(pa):
			return false
		case math.IsNaN(pb):
			return true
		case pa != pb:
			return pa < pb
		default:
			return rank[a] < rank[b]
		}
	})

	count := topCount
	if count > n {
		count = n
	}
	if count > 0 {
		sel.ByTopCount = append([]int(nil), rank[:count]...)
	}

	pct := int(math.Round(float64(n) * topPercent / 100))
	if pct < 1 {
		pct = 1
	}
	if pct > n {
		pct = n
	}
	if n > 0 {
		sel.ByTopPct = append([]int(nil), rank[:pct]...)
	}
	return sel
}
