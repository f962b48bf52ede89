package screen

import (
	"math"
	"sort"

	"qrscreen/domain/core"
	domain "qrscreen/domain/screen"
	"qrscreen/ports"
)

// BHAdjuster applies Benjamini-Hochberg step-up false-discovery-rate
// correction. Output order matches input order; NaN entries pass through
// and do not count toward the number of tests.
type BHAdjuster struct{}

// NewBHAdjuster creates the FDR adjuster.
func NewBHAdjuster() ports.Adjuster {
	return BHAdjuster{}
}

func (BHAdjuster) Name() string { return string(domain.AdjustFDR) }

func (BHAdjuster) Adjust(pvalues []float64) []float64 {
	return bhAdjust(pvalues)
}

// QValueAdjuster applies Storey q-values: the BH adjustment scaled by an
// estimate of pi0, the proportion of true nulls.
type QValueAdjuster struct{}

// NewQValueAdjuster creates the q-value adjuster.
func NewQValueAdjuster() ports.Adjuster {
	return QValueAdjuster{}
}

func (QValueAdjuster) Name() string { return string(domain.AdjustQValue) }

func (QValueAdjuster) Adjust(pvalues []float64) []float64 {
	pi0 := estimatePi0(pvalues)
	out := bhAdjust(pvalues)
	for i, v := range out {
		if !math.IsNaN(v) {
			out[i] = math.Min(1, v*pi0)
		}
	}
	return out
}

// AdjusterFor maps a validated method name to its adjuster.
func AdjusterFor(method domain.AdjustMethod) (ports.Adjuster, error) {
	switch method {
	case domain.AdjustFDR:
		return NewBHAdjuster(), nil
	case domain.AdjustQValue:
		return NewQValueAdjuster(), nil
	default:
		return nil, core.NewUnknownMethodError(string(method))
	}
}

// bhAdjust computes step-up adjusted p-values: p_(i) * m / i with a
// cumulative minimum from the largest rank down, so the adjusted values are
// monotone in the sorted raw p-values.
func bhAdjust(pvalues []float64) []float64 {
	out := make([]float64, len(pvalues))
	var idx []int
	for i, p := range pvalues {
		if math.IsNaN(p) {
			out[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	m := len(idx)
	if m == 0 {
		return out
	}
	sort.Slice(idx, func(a, b int) bool { return pvalues[idx[a]] < pvalues[idx[b]] })

	running := math.Inf(1)
	for r := m - 1; r >= 0; r-- {
		q := pvalues[idx[r]] * float64(m) / float64(r+1)
		running = math.Min(running, q)
		out[idx[r]] = math.Min(1, running)
	}
	return out
}

// estimatePi0 estimates the true-null proportion over the lambda grid
// 0.05..0.95: pi0(lambda) = #{p > lambda} / (m (1 - lambda)), averaged and
// capped at 1. Degenerate inputs fall back to pi0 = 1 (BH-equivalent).
func estimatePi0(pvalues []float64) float64 {
	var clean []float64
	for _, p := range pvalues {
		if !math.IsNaN(p) {
			clean = append(clean, p)
		}
	}
	m := len(clean)
	if m < 20 {
		// Too few tests for a stable tail estimate.
		return 1
	}

	var sum float64
	var count int
	for lambda := 0.05; lambda < 0.96; lambda += 0.05 {
		exceed := 0
		for _, p := range clean {
			if p > lambda {
				exceed++
			}
		}
		sum += float64(exceed) / (float64(m) * (1 - lambda))
		count++
	}
	pi0 := sum / float64(count)
	if pi0 <= 0 || pi0 > 1 || math.IsNaN(pi0) {
		return 1
	}
	return pi0
}
