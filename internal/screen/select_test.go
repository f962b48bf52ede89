package screen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectionByThreshold(t *testing.T) {
	adj := []float64{0.01, 0.05, 0.049, math.NaN(), 0.2}
	sel := BuildSelection(adj, 0.05, 2, 50)

	// Strict inequality: 0.05 itself is out, NaN is never selected.
	assert.Equal(t, []int{0, 2}, sel.ByThreshold)
}

func TestSelectionTopCountOrdering(t *testing.T) {
	adj := []float64{0.3, 0.01, math.NaN(), 0.01, 0.2}
	sel := BuildSelection(adj, 0.05, 3, 100)

	// Ties broken by input order, NaN ranked last.
	assert.Equal(t, []int{1, 3, 4}, sel.ByTopCount)

	full := BuildSelection(adj, 0.05, 10, 100)
	assert.Len(t, full.ByTopCount, len(adj))
	assert.Equal(t, 2, full.ByTopCount[len(adj)-1])
}

func TestSelectionTopPercent(t *testing.T) {
	adj := make([]float64, 200)
	for i := range adj {
		adj[i] = float64(i+1) / 200
	}

	sel := BuildSelection(adj, 0.05, 0, 1)
	assert.Len(t, sel.ByTopPct, 2) // round(200 * 0.01)
	assert.Equal(t, []int{0, 1}, sel.ByTopPct)

	// Floors at one predictor even when the rounded count is zero.
	tiny := BuildSelection(adj[:10], 0.05, 0, 1)
	assert.Equal(t, []int{0}, tiny.ByTopPct)
}

func TestSelectionEmptyInput(t *testing.T) {
	sel := BuildSelection(nil, 0.05, 10, 1)
	assert.Empty(t, sel.ByThreshold)
	assert.Empty(t, sel.ByTopCount)
	assert.Empty(t, sel.ByTopPct)
}
