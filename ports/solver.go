package ports

import (
	"context"

	"qrscreen/domain/matrix"
	"qrscreen/domain/screen"
)

// QuantileFit is the solver output for one design/response/tau invocation.
// Dual holds one value per observation in [0,1]; the engine derives the
// rank-score vector from it as dual - (1-tau). Non-uniqueness of the
// solution is a warning on the fit, never an error.
type QuantileFit struct {
	Tau          float64
	Coefficients []float64
	Residuals    []float64
	Dual         []float64
	Warnings     []screen.WarningCode
}

// QuantileSolver fits a quantile regression of y on the given design at a
// single quantile level. Implementations must support repeated calls at
// different tau against the same design.
type QuantileSolver interface {
	Fit(ctx context.Context, design *matrix.Matrix, y []float64, tau float64) (*QuantileFit, error)
}
