package screen

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"

	"qrscreen/domain/core"
	"qrscreen/domain/matrix"
	domain "qrscreen/domain/screen"
	"qrscreen/internal"
	"qrscreen/internal/linalg"
	"qrscreen/ports"
)

// degenRel is the relative tolerance below which xstar'xstar counts as zero
// variance, measured against the raw column's sum of squares.
const degenRel = 1e-12

// Engine runs quantile rank-score screens. RankVectors and VN are computed
// once per invocation and shared read-only across the per-predictor loop;
// predictors are otherwise independent and may be evaluated in parallel.
type Engine struct {
	solver   ports.QuantileSolver
	resid    ports.Residualizer
	combiner ports.Combiner
	workers  int
	log      *internal.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the parallel predictor loop; 0 or 1 runs sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithCombiner overrides the cross-quantile p-value combiner.
func WithCombiner(c ports.Combiner) Option {
	return func(e *Engine) { e.combiner = c }
}

// WithLogger overrides the diagnostic logger.
func WithLogger(l *internal.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a screening engine around a quantile solver and an OLS
// residualizer.
func NewEngine(solver ports.QuantileSolver, resid ports.Residualizer, opts ...Option) *Engine {
	e := &Engine{
		solver:   solver,
		resid:    resid,
		combiner: NewCauchyCombiner(),
		workers:  1,
		log:      internal.DefaultLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request carries one screening invocation. Z may be nil (no covariates).
//
// Threshold, TopCount and TopPercent treat zero as "unset" and fall back to
// the defaults (0.05, 10, 1). A literal zero is not a usable value for any
// of them: a zero threshold selects nothing under the strict inequality and
// a zero top-count is an empty set.
type Request struct {
	X          *matrix.Matrix
	Y          []float64
	Z          *matrix.Matrix
	TauList    domain.TauList
	Method     domain.AdjustMethod
	Threshold  float64
	TopCount   int
	TopPercent float64
}

func (r *Request) withDefaults() {
	if r.Threshold == 0 {
		r.Threshold = 0.05
	}
	if r.TopCount == 0 {
		r.TopCount = 10
	}
	if r.TopPercent == 0 {
		r.TopPercent = 1
	}
}

// validate applies the fatal-input checks before any per-predictor work.
func (r *Request) validate() error {
	if r.X == nil || r.X.Cols() == 0 {
		return core.ErrNoPredictors
	}
	if len(r.Y) == 0 {
		return core.ErrEmptyResponse
	}
	if len(r.Y) != r.X.Rows() {
		return core.NewRowMismatchError("response", len(r.Y), r.X.Rows())
	}
	if r.Z != nil && r.Z.Rows() != r.X.Rows() {
		return core.NewRowMismatchError("covariates", r.Z.Rows(), r.X.Rows())
	}
	if err := r.TauList.Validate(); err != nil {
		return err
	}
	return r.Method.Validate()
}

// Screen runs the covariate-adjusted path: covariates sit inside the
// quantile regression design zz = [1 | Z], and each predictor column is
// OLS-residualized against zz before scoring.
func (e *Engine) Screen(ctx context.Context, req Request) (*domain.Result, error) {
	req.withDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}
	return e.screen(ctx, req, req.Z != nil)
}

// ScreenResidualized runs the shortcut path under investigation: X and Y are
// pre-residualized against zz by least squares, then screened with an
// intercept-only quantile regression and no further adjustment. This is
// deliberately a separate operation from Screen; the two do not agree
// numerically and neither is derived from the other.
func (e *Engine) ScreenResidualized(ctx context.Context, req Request) (*domain.Result, error) {
	req.withDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Z == nil {
		return e.screen(ctx, req, false)
	}

	n := req.X.Rows()
	zz, err := req.Z.WithIntercept(n)
	if err != nil {
		return nil, err
	}
	ystar, err := e.resid.Residuals(req.Y, zz)
	if err != nil {
		return nil, err
	}
	cols := make([][]float64, req.X.Cols())
	for j := range cols {
		xstar, rerr := e.resid.Residuals(req.X.ColView(j), zz)
		if rerr != nil {
			// A collinear predictor residualizes to zero, not to an error.
			xstar = make([]float64, n)
		}
		cols[j] = xstar
	}
	xstarMat, err := matrix.New(req.X.ColNames(), cols, req.X.RowNames())
	if err != nil {
		return nil, err
	}

	req.X = xstarMat
	req.Y = ystar
	req.Z = nil
	return e.screen(ctx, req, false)
}

// CompareAdjustments runs both paths on the same inputs and reports where
// they disagree: per-predictor combined p-value deltas and significance
// calls that flip across the configured threshold.
func (e *Engine) CompareAdjustments(ctx context.Context, req Request) (*domain.Comparison, error) {
	adjusted, err := e.Screen(ctx, req)
	if err != nil {
		return nil, err
	}
	residual, err := e.ScreenResidualized(ctx, req)
	if err != nil {
		return nil, err
	}

	cmp := &domain.Comparison{
		ScreenID: core.NewScreenID(),
		Adjusted: adjusted,
		Residual: residual,
	}
	for i := range adjusted.Predictors {
		a := &adjusted.Predictors[i]
		r := &residual.Predictors[i]
		gap := 0.0
		for k := range a.PerTauP {
			gap = math.Max(gap, math.Abs(a.PerTauP[k]-r.PerTauP[k]))
		}
		flipped := (a.Adjusted < adjusted.Selection.Threshold) != (r.Adjusted < residual.Selection.Threshold)
		cmp.Deltas = append(cmp.Deltas, domain.ComparisonDelta{
			Key:           a.Key,
			CombinedDelta: a.Combined - r.Combined,
			MaxPerTauGap:  gap,
			CallFlipped:   flipped,
		})
		if flipped {
			cmp.Discordant = append(cmp.Discordant, a.Key)
		}
	}
	return cmp, nil
}

// screen is the shared core behind both public paths. hasCovariates decides
// whether predictor columns are residualized against zz; with no covariates
// xstar is the raw column.
func (e *Engine) screen(ctx context.Context, req Request, hasCovariates bool) (*domain.Result, error) {
	started := time.Now()
	n := req.X.Rows()
	p := req.X.Cols()
	ltau := len(req.TauList)

	zz, err := req.Z.WithIntercept(n)
	if err != nil {
		return nil, err
	}

	// Rank vectors: one solver fit per tau on the shared design, predictor
	// independent. Solver non-uniqueness is logged and recorded, never fatal.
	ranks := make([]domain.RankVector, ltau)
	var screenWarnings []domain.WarningCode
	for i, tau := range req.TauList {
		fit, ferr := e.solver.Fit(ctx, zz, req.Y, float64(tau))
		if ferr != nil {
			return nil, core.NewSolverError(float64(tau), ferr)
		}
		scores := make([]float64, n)
		for k, d := range fit.Dual {
			scores[k] = d - (1 - float64(tau))
		}
		ranks[i] = domain.RankVector{Tau: tau, Scores: scores}
		for _, w := range fit.Warnings {
			e.log.Warn("solver at tau=%g: %s", float64(tau), w)
			screenWarnings = appendWarning(screenWarnings, w)
		}
	}

	vn := TauCovariance(req.TauList.Float64s())

	results := make([]domain.PredictorResult, p)
	if err := e.forEachPredictor(ctx, p, func(j int) {
		results[j] = e.evalPredictor(req, zz, ranks, vn, j, hasCovariates)
	}); err != nil {
		return nil, err
	}

	adjuster, err := AdjusterFor(req.Method)
	if err != nil {
		return nil, err
	}

	// Adjust the combined column and, independently, each per-tau column.
	combined := make([]float64, p)
	for j := range results {
		combined[j] = results[j].Combined
	}
	adjusted := adjuster.Adjust(combined)
	for j := range results {
		results[j].Adjusted = adjusted[j]
		results[j].PerTauAdj = make([]float64, ltau)
	}
	col := make([]float64, p)
	for i := 0; i < ltau; i++ {
		for j := range results {
			col[j] = results[j].PerTauP[i]
		}
		adjCol := adjuster.Adjust(col)
		for j := range results {
			results[j].PerTauAdj[i] = adjCol[j]
		}
	}

	res := &domain.Result{
		ScreenID:   core.NewScreenID(),
		TauList:    req.TauList,
		Method:     req.Method,
		Predictors: results,
		Selection:  BuildSelection(adjusted, req.Threshold, req.TopCount, req.TopPercent),
		Warnings:   screenWarnings,
		StartedAt:  started,
		RuntimeMs:  time.Since(started).Milliseconds(),
	}
	return res, nil
}

// forEachPredictor runs fn over predictor indices, bounded by the worker
// budget. Results land in index-addressed storage, so completion order does
// not matter. Cancellation stops admission of new predictors.
func (e *Engine) forEachPredictor(ctx context.Context, p int, fn func(j int)) error {
	if e.workers <= 1 {
		for j := 0; j < p; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(j)
		}
		return nil
	}

	sem := semaphore.NewWeighted(int64(e.workers))
	var wg sync.WaitGroup
	var acquireErr error
	for j := 0; j < p; j++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		wg.Add(1)
		go func(j int) {
			defer sem.Release(1)
			defer wg.Done()
			fn(j)
		}(j)
	}
	wg.Wait()
	return acquireErr
}

// evalPredictor computes one predictor's full record. Numerical failures are
// isolated here: they flag the record and never abort the batch.
func (e *Engine) evalPredictor(req Request, zz *matrix.Matrix, ranks []domain.RankVector, vn *mat.SymDense, j int, hasCovariates bool) domain.PredictorResult {
	ltau := len(ranks)
	out := domain.PredictorResult{
		Index:   j,
		Key:     core.PredictorKey(req.X.ColName(j)),
		Sn:      make([]float64, ltau),
		PerTauP: make([]float64, ltau),
	}

	x := req.X.ColView(j)
	xstar := x
	if hasCovariates {
		r, err := e.resid.Residuals(x, zz)
		if err != nil {
			e.log.Warn("predictor %q: residualization failed: %v", out.Key, err)
			xstar = make([]float64, len(x))
		} else {
			xstar = r
		}
	}

	out.XtX = linalg.Dot(xstar, xstar)
	rawSS := linalg.Dot(x, x)

	if out.XtX <= degenRel*math.Max(1, rawSS) {
		// Zero-variance residual: no evidence at any quantile, by policy.
		e.log.Warn("predictor %q: degenerate variance, p-values fixed at 1", out.Key)
		out.Warnings = append(out.Warnings, domain.WarnDegenerateVariance)
		for i := 0; i < ltau; i++ {
			out.PerTauP[i] = 1
		}
		out.Combined = 1
		out.Composite = math.NaN()
		return out
	}

	for i := 0; i < ltau; i++ {
		out.Sn[i] = linalg.Dot(xstar, ranks[i].Scores)
		v := vn.At(i, i) * out.XtX
		if v <= 0 {
			out.PerTauP[i] = 1
			out.Warnings = append(out.Warnings, domain.WarnDegenerateVariance)
			continue
		}
		out.PerTauP[i] = ChiSquareUpperTail(out.Sn[i]*out.Sn[i]/v, 1)
	}

	vn2 := ScaleCovariance(vn, out.XtX)
	if stat, ok := CompositeStatistic(out.Sn, vn2); ok {
		out.Composite = ChiSquareUpperTail(stat, float64(ltau))
	} else {
		e.log.Warn("predictor %q: covariance not positive-definite, composite undefined", out.Key)
		out.Warnings = append(out.Warnings, domain.WarnNotPositiveDefinite)
		out.Composite = math.NaN()
	}

	out.Combined = e.combiner.Combine(out.PerTauP)
	return out
}

func appendWarning(ws []domain.WarningCode, w domain.WarningCode) []domain.WarningCode {
	for _, have := range ws {
		if have == w {
			return ws
		}
	}
	return append(ws, w)
}
