// Package screen implements the quantile rank-score screening computation:
// per-predictor score statistics across quantile levels, the cross-quantile
// composite test, Cauchy combination, multiple-testing adjustment, and
// candidate selection.
package screen

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TauCovariance builds VN, the asymptotic covariance of the quantile
// rank-score process: VN[i,j] = min(tau_i, tau_j) - tau_i*tau_j. It depends
// only on the levels and is shared read-only across all predictors.
func TauCovariance(taus []float64) *mat.SymDense {
	l := len(taus)
	vn := mat.NewSymDense(l, nil)
	for i := 0; i < l; i++ {
		for j := i; j < l; j++ {
			vn.SetSym(i, j, math.Min(taus[i], taus[j])-taus[i]*taus[j])
		}
	}
	return vn
}

// ScaleCovariance returns VN2 = scale * VN. With a single predictor column
// the Kronecker product with xstar'xstar collapses to this scalar scaling.
func ScaleCovariance(vn *mat.SymDense, scale float64) *mat.SymDense {
	l := vn.SymmetricDim()
	out := mat.NewSymDense(l, nil)
	for i := 0; i < l; i++ {
		for j := i; j < l; j++ {
			out.SetSym(i, j, scale*vn.At(i, j))
		}
	}
	return out
}

// CompositeStatistic whitens the stacked score vector against VN2 and
// returns the quadratic form SN' VN2^{-1} SN. ok is false when VN2 is not
// positive-definite (Cholesky failure); the caller reports the composite
// p-value as NaN and continues.
func CompositeStatistic(sn []float64, vn2 *mat.SymDense) (stat float64, ok bool) {
	var chol mat.Cholesky
	if ok = chol.Factorize(vn2); !ok {
		return math.NaN(), false
	}
	snVec := mat.NewVecDense(len(sn), append([]float64(nil), sn...))
	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, snVec); err != nil {
		return math.NaN(), false
	}
	return mat.Dot(snVec, &solved), true
}

// ChiSquareUpperTail is P(chi-square_df > x).
func ChiSquareUpperTail(x float64, df float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	if x <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: df}.Survival(x)
}
