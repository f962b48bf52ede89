package screen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCauchyCombineOrderInvariant(t *testing.T) {
	c := NewCauchyCombiner()
	p := []float64{0.01, 0.2, 0.93, 0.4, 0.07}
	perm := []float64{0.93, 0.07, 0.4, 0.01, 0.2}

	assert.InDelta(t, c.Combine(p), c.Combine(perm), 1e-14)
}

func TestCauchyCombineSingleValueIdentity(t *testing.T) {
	c := NewCauchyCombiner()
	for _, p := range []float64{0.001, 0.05, 0.3, 0.5, 0.77, 0.99} {
		assert.InDeltaf(t, p, c.Combine([]float64{p}), 1e-12, "p=%g", p)
	}
}

func TestCauchyCombineBounds(t *testing.T) {
	c := NewCauchyCombiner()

	got := c.Combine([]float64{1, 1, 1})
	assert.InDelta(t, 1, got, 1e-9)
	assert.LessOrEqual(t, got, 1.0)

	got = c.Combine([]float64{1e-20, 0.5})
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 0.5)
}

func TestCauchyCombineSkipsNaN(t *testing.T) {
	c := NewCauchyCombiner()
	assert.InDelta(t, 0.3, c.Combine([]float64{0.3, math.NaN()}), 1e-12)
	assert.True(t, math.IsNaN(c.Combine(nil)))
	assert.True(t, math.IsNaN(c.Combine([]float64{math.NaN()})))
}

func TestCauchyCombineDominatedBySmallest(t *testing.T) {
	// One very small p-value should drag the combination down even against
	// many nulls; this is the property that makes ACAT useful for screening.
	c := NewCauchyCombiner()
	p := []float64{1e-8, 0.5, 0.5, 0.5}
	assert.Less(t, c.Combine(p), 1e-6)
}
