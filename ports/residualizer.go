package ports

import (
	"qrscreen/domain/matrix"
)

// Residualizer computes exact ordinary-least-squares residuals of a target
// vector against a design matrix. No intercept is added beyond what the
// design already contains, and no shrinkage is applied.
type Residualizer interface {
	Residuals(target []float64, design *matrix.Matrix) ([]float64, error)
}
