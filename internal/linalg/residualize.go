// Package linalg implements the exact least-squares primitives the screening
// engine consumes: OLS projection residuals against a design matrix.
package linalg

import (
	"gonum.org/v1/gonum/mat"

	"qrscreen/domain/core"
	"qrscreen/domain/matrix"
	"qrscreen/ports"
)

// OLSResidualizer computes exact ordinary-least-squares residuals via QR
// factorization. No intercept is added beyond what the design carries and
// no shrinkage is applied.
type OLSResidualizer struct{}

// NewOLSResidualizer creates the residualizer.
func NewOLSResidualizer() ports.Residualizer {
	return &OLSResidualizer{}
}

// Residuals returns target minus its least-squares projection onto the
// column space of design. A near-singular design still yields the computed
// residual; only hard factorization failures are errors.
func (r *OLSResidualizer) Residuals(target []float64, design *matrix.Matrix) ([]float64, error) {
	n := design.Rows()
	p := design.Cols()
	if len(target) != n {
		return nil, core.NewRowMismatchError("target", len(target), n)
	}
	if n < p {
		return nil, core.ErrInsufficientData
	}

	a := DenseFrom(design)
	y := mat.NewVecDense(n, append([]float64(nil), target...))

	var qr mat.QR
	qr.Factorize(a)

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		// Condition errors flag ill-conditioning but still carry a usable
		// solution; anything else is a genuine failure.
		if _, ok := err.(mat.Condition); !ok {
			return nil, core.ErrSingularDesign
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(a, &beta)

	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		resid[i] = target[i] - fitted.AtVec(i)
	}
	return resid, nil
}

// DenseFrom converts a column-major domain matrix into a gonum dense matrix.
func DenseFrom(m *matrix.Matrix) *mat.Dense {
	n, p := m.Rows(), m.Cols()
	out := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		col := m.ColView(j)
		for i := 0; i < n; i++ {
			out.Set(i, j, col[i])
		}
	}
	return out
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
