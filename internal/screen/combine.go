package screen

import (
	"math"

	"qrscreen/ports"
)

// pClamp keeps transformed p-values finite; tan diverges at exactly 0 or 1.
const pClamp = 1e-15

// CauchyCombiner collapses correlated per-quantile p-values into one p-value
// via the Cauchy combination test: transform each p to a standard Cauchy
// statistic, average, and map back through the Cauchy survival function.
// The combination is order-invariant and valid under arbitrary dependence
// between the component tests.
type CauchyCombiner struct{}

// NewCauchyCombiner creates the combiner.
func NewCauchyCombiner() ports.Combiner {
	return CauchyCombiner{}
}

// Combine returns the combined p-value. NaN inputs are skipped; an empty or
// all-NaN input yields NaN.
func (CauchyCombiner) Combine(pvalues []float64) float64 {
	var sum float64
	var count int
	for _, p := range pvalues {
		if math.IsNaN(p) {
			continue
		}
		p = math.Min(1-pClamp, math.Max(pClamp, p))
		sum += math.Tan((0.5 - p) * math.Pi)
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	t := sum / float64(count)
	combined := 0.5 - math.Atan(t)/math.Pi
	// Guard the boundary against floating-point drift.
	return math.Min(1, math.Max(0, combined))
}
