// Package quantreg fits quantile regressions and recovers the dual (rank
// score) vector the screening engine consumes. The intercept-only design is
// solved exactly through order statistics; general designs go through
// iteratively reweighted least squares with a basis polish, after which the
// dual is recovered from the optimality conditions of the underlying linear
// program.
package quantreg

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"qrscreen/domain/core"
	"qrscreen/domain/matrix"
	"qrscreen/domain/screen"
	"qrscreen/internal/linalg"
	"qrscreen/ports"
)

const (
	defaultMaxIter = 200
	defaultTol     = 1e-10

	// uniqueTol decides when a dual component had to be clamped hard enough
	// to call the solution non-unique.
	uniqueTol = 1e-6
)

// Solver implements ports.QuantileSolver.
type Solver struct {
	MaxIter int
	Tol     float64
}

// NewSolver creates a solver with default iteration limits.
func NewSolver() *Solver {
	return &Solver{MaxIter: defaultMaxIter, Tol: defaultTol}
}

// Fit solves min sum rho_tau(y - design*b) and returns coefficients,
// residuals and the dual vector a in [0,1]^n satisfying
// design' a = (1-tau) design' 1. Non-uniqueness is reported as a warning on
// the fit, never as an error.
func (s *Solver) Fit(ctx context.Context, design *matrix.Matrix, y []float64, tau float64) (*ports.QuantileFit, error) {
	if tau <= 0 || tau >= 1 {
		return nil, core.NewTauError(tau)
	}
	n := design.Rows()
	if len(y) != n {
		return nil, core.NewRowMismatchError("response", len(y), n)
	}
	if n <= design.Cols() {
		return nil, core.ErrInsufficientData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isInterceptOnly(design) {
		return fitInterceptOnly(y, tau)
	}
	return s.fitGeneral(ctx, design, y, tau)
}

// isInterceptOnly reports whether the design is a single all-ones column.
func isInterceptOnly(design *matrix.Matrix) bool {
	if design.Cols() != 1 {
		return false
	}
	for _, v := range design.ColView(0) {
		if v != 1 {
			return false
		}
	}
	return true
}

// fitInterceptOnly solves the location problem exactly. The minimizer is the
// order statistic y_(k) with #{y < b} <= n*tau <= #{y <= b}; the dual puts
// mass 1 above the fit, 0 below, and the remaining (1-tau)n - #{above} on
// the fitted value itself.
func fitInterceptOnly(y []float64, tau float64) (*ports.QuantileFit, error) {
	n := len(y)
	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)

	nt := float64(n) * tau
	k := int(math.Ceil(nt))
	var warnings []screen.WarningCode
	if isNearInteger(nt) {
		// Any b in [y_(k), y_(k+1)] minimizes the check loss.
		k = int(math.Round(nt))
		warnings = append(warnings, screen.WarnSolverNonUnique)
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	b := sorted[k-1]

	above := 0
	tied := 0
	for _, v := range y {
		switch {
		case v > b:
			above++
		case v == b:
			tied++
		}
	}
	if tied > 1 {
		warnings = append(warnings, screen.WarnSolverNonUnique)
	}

	// Mass left for the tied observations after the strict-positive residuals
	// take dual value 1.
	mass := (1-tau)*float64(n) - float64(above)
	perTie := mass / float64(tied)

	dual := make([]float64, n)
	resid := make([]float64, n)
	for i, v := range y {
		resid[i] = v - b
		switch {
		case v > b:
			dual[i] = 1
		case v == b:
			dual[i] = perTie
		}
	}

	return &ports.QuantileFit{
		Tau:          tau,
		Coefficients: []float64{b},
		Residuals:    resid,
		Dual:         dual,
		Warnings:     dedupe(warnings),
	}, nil
}

// fitGeneral handles designs with covariates: IRLS on the smoothed check
// loss, an exact-interpolation polish over the p smallest residuals, then
// dual recovery.
func (s *Solver) fitGeneral(ctx context.Context, design *matrix.Matrix, y []float64, tau float64) (*ports.QuantileFit, error) {
	n, p := design.Rows(), design.Cols()
	a := linalg.DenseFrom(design)
	yv := mat.NewVecDense(n, append([]float64(nil), y...))

	beta, err := s.irls(ctx, a, yv, tau)
	if err != nil {
		return nil, err
	}

	resid := residuals(a, yv, beta)
	if polished, ok := polishBasis(a, yv, resid, p); ok {
		pr := residuals(a, yv, polished)
		if checkLoss(pr, tau) <= checkLoss(resid, tau)+s.Tol {
			beta = polished
			resid = pr
		}
	}

	dual, warnings := recoverDual(design, resid, tau)

	coefs := make([]float64, p)
	for j := 0; j < p; j++ {
		coefs[j] = beta.AtVec(j)
	}
	return &ports.QuantileFit{
		Tau:          tau,
		Coefficients: coefs,
		Residuals:    resid,
		Dual:         dual,
		Warnings:     warnings,
	}, nil
}

// irls minimizes the eps-smoothed check loss by iteratively reweighted least
// squares, shrinking eps as the iterates settle.
func (s *Solver) irls(ctx context.Context, a *mat.Dense, y *mat.VecDense, tau float64) (*mat.VecDense, error) {
	n, p := a.Dims()
	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	tol := s.Tol
	if tol <= 0 {
		tol = defaultTol
	}

	// OLS start.
	var qr mat.QR
	qr.Factorize(a)
	beta := &mat.VecDense{}
	if err := qr.SolveVecTo(beta, false, y); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, core.ErrSingularDesign
		}
	}

	eps := residScale(a, y, beta) * 1e-3
	if eps <= 0 {
		eps = 1e-6
	}

	w := make([]float64, n)
	wa := mat.NewDense(n, p, nil)
	wy := mat.NewVecDense(n, nil)
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := 0; i < n; i++ {
			r := y.AtVec(i) - rowDot(a, beta, i)
			g := 1 - tau
			if r > 0 {
				g = tau
			}
			w[i] = math.Sqrt(g / math.Max(math.Abs(r), eps))
		}
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				wa.Set(i, j, w[i]*a.At(i, j))
			}
			wy.SetVec(i, w[i]*y.AtVec(i))
		}

		var wqr mat.QR
		wqr.Factorize(wa)
		next := &mat.VecDense{}
		if err := wqr.SolveVecTo(next, false, wy); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return nil, core.ErrSingularDesign
			}
		}

		delta := 0.0
		for j := 0; j < p; j++ {
			delta = math.Max(delta, math.Abs(next.AtVec(j)-beta.AtVec(j)))
		}
		beta = next
		if delta < tol {
			break
		}
		eps = math.Max(eps*0.5, 1e-12)
	}
	return beta, nil
}

// polishBasis interpolates the p observations closest to the current fit.
// The optimal quantile regression plane passes through p data points, so
// solving that square system exactly removes the IRLS smoothing bias.
func polishBasis(a *mat.Dense, y *mat.VecDense, resid []float64, p int) (*mat.VecDense, bool) {
	idx := smallestAbs(resid, p)
	sub := mat.NewDense(p, p, nil)
	suby := mat.NewVecDense(p, nil)
	for r, i := range idx {
		for j := 0; j < p; j++ {
			sub.Set(r, j, a.At(i, j))
		}
		suby.SetVec(r, y.AtVec(i))
	}

	var lu mat.LU
	lu.Factorize(sub)
	beta := &mat.VecDense{}
	if err := lu.SolveVecTo(beta, false, suby); err != nil {
		return nil, false
	}
	return beta, true
}

// recoverDual reconstructs the LP dual from the fitted residuals:
// a_i = 1 above the plane, 0 below, and the basis values solve
// zz_h' a_h = (1-tau) zz' 1 - zz_+' 1.
func recoverDual(design *matrix.Matrix, resid []float64, tau float64) ([]float64, []screen.WarningCode) {
	n, p := design.Rows(), design.Cols()
	ztol := zeroTol(resid)

	var basis, positive []int
	for i, r := range resid {
		switch {
		case r > ztol:
			positive = append(positive, i)
		case r >= -ztol:
			basis = append(basis, i)
		}
	}

	var warnings []screen.WarningCode
	if len(basis) != p {
		// Degenerate fit: fewer or more zero residuals than basis slots.
		warnings = append(warnings, screen.WarnSolverNonUnique)
	}
	if len(basis) == 0 {
		basis = smallestAbs(resid, p)
	}

	var sol *mat.VecDense
	if len(basis) == p {
		// rhs_j = (1-tau) * sum_i zz_ij - sum_{i positive} zz_ij
		rhs := mat.NewVecDense(p, nil)
		for j := 0; j < p; j++ {
			col := design.ColView(j)
			total, pos := 0.0, 0.0
			for i := 0; i < n; i++ {
				total += col[i]
			}
			for _, i := range positive {
				pos += col[i]
			}
			rhs.SetVec(j, (1-tau)*total-pos)
		}

		sub := mat.NewDense(p, p, nil)
		for j := 0; j < p; j++ {
			col := design.ColView(j)
			for c, i := range basis {
				sub.Set(j, c, col[i])
			}
		}

		sol = &mat.VecDense{}
		var qr mat.QR
		qr.Factorize(sub)
		if err := qr.SolveVecTo(sol, false, rhs); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				// Unsolvable basis system: fall back to even mass.
				warnings = append(warnings, screen.WarnSolverNonUnique)
				sol = nil
			}
		}
	}
	if sol == nil {
		// A tied or constant response leaves more zero residuals than basis
		// slots; the square solve does not apply, so spread the remaining
		// mass evenly across the tied observations.
		sol = mat.NewVecDense(len(basis), nil)
		mass := (1-tau)*float64(n) - float64(len(positive))
		for c := range basis {
			sol.SetVec(c, mass/float64(len(basis)))
		}
	}

	dual := make([]float64, n)
	for _, i := range positive {
		dual[i] = 1
	}
	for c, i := range basis {
		v := sol.AtVec(c)
		if v < -uniqueTol || v > 1+uniqueTol {
			warnings = append(warnings, screen.WarnSolverNonUnique)
		}
		dual[i] = math.Min(1, math.Max(0, v))
	}
	return dual, dedupe(warnings)
}

// checkLoss is the quantile regression objective sum rho_tau(r).
func checkLoss(resid []float64, tau float64) float64 {
	var s float64
	for _, r := range resid {
		if r >= 0 {
			s += tau * r
		} else {
			s -= (1 - tau) * r
		}
	}
	return s
}

func residuals(a *mat.Dense, y, beta *mat.VecDense) []float64 {
	n, _ := a.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = y.AtVec(i) - rowDot(a, beta, i)
	}
	return out
}

func rowDot(a *mat.Dense, beta *mat.VecDense, i int) float64 {
	_, p := a.Dims()
	var s float64
	for j := 0; j < p; j++ {
		s += a.At(i, j) * beta.AtVec(j)
	}
	return s
}

func residScale(a *mat.Dense, y, beta *mat.VecDense) float64 {
	r := residuals(a, y, beta)
	var s float64
	for _, v := range r {
		s = math.Max(s, math.Abs(v))
	}
	return s
}

// zeroTol picks the threshold below which a residual counts as zero,
// relative to the residual magnitude of the fit.
func zeroTol(resid []float64) float64 {
	var s float64
	for _, v := range resid {
		s = math.Max(s, math.Abs(v))
	}
	return math.Max(1e-8, s*1e-8)
}

// smallestAbs returns the indices of the k smallest |v|.
func smallestAbs(v []float64, k int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return math.Abs(v[idx[a]]) < math.Abs(v[idx[b]])
	})
	if k > len(idx) {
		k = len(idx)
	}
	out := append([]int(nil), idx[:k]...)
	sort.Ints(out)
	return out
}

func isNearInteger(x float64) bool {
	return math.Abs(x-math.Round(x)) < 1e-9
}

func dedupe(ws []screen.WarningCode) []screen.WarningCode {
	if len(ws) < 2 {
		return ws
	}
	seen := make(map[screen.WarningCode]bool, len(ws))
	out := ws[:0]
	for _, w := range ws {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
