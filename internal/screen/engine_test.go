package screen

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrscreen/domain/core"
	"qrscreen/domain/matrix"
	domain "qrscreen/domain/screen"
	"qrscreen/internal/linalg"
	"qrscreen/internal/quantreg"
	"qrscreen/internal/testkit"
)

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer(), opts...)
}

// permuted32 returns 1..32 in a fixed scrambled order.
func permuted32() []float64 {
	y := make([]float64, 32)
	for i := range y {
		y[i] = float64((i*13)%32 + 1)
	}
	return y
}

func TestScreenSingleTauAgainstClosedForm(t *testing.T) {
	y := permuted32()
	n := len(y)
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i%7) - 3 // deterministic, mean-ish zero, nonzero variance
	}
	xm := matrix.MustNew([]string{"x1"}, [][]float64{x})

	// At tau = 0.9 the fit is the 29th order statistic; the dual is 1 above
	// it, 0 below, and carries the leftover mass 0.2 on the fitted point.
	// The rank score subtracts 1 - tau.
	ranks := make([]float64, n)
	for i, v := range y {
		switch {
		case v > 29:
			ranks[i] = 0.9
		case v == 29:
			ranks[i] = 0.1
		default:
			ranks[i] = -0.1
		}
	}
	var sn, xtx float64
	for i := range x {
		sn += x[i] * ranks[i]
		xtx += x[i] * x[i]
	}
	wantP := ChiSquareUpperTail(sn*sn/(0.09*xtx), 1)

	eng := newTestEngine()
	res, err := eng.Screen(context.Background(), Request{
		X:       xm,
		Y:       y,
		TauList: domain.TauList{0.9},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)
	require.Len(t, res.Predictors, 1)

	pr := res.Predictors[0]
	assert.Equal(t, core.PredictorKey("x1"), pr.Key)
	assert.InDelta(t, sn, pr.Sn[0], 1e-10)
	assert.InDelta(t, xtx, pr.XtX, 1e-10)
	assert.InDelta(t, wantP, pr.PerTauP[0], 1e-10)

	// One quantile: combination and composite both reduce to the single test.
	assert.InDelta(t, pr.PerTauP[0], pr.Combined, 1e-12)
	assert.InDelta(t, pr.PerTauP[0], pr.Composite, 1e-10)
	// One predictor: the adjustment is the identity.
	assert.InDelta(t, pr.Combined, pr.Adjusted, 1e-12)
	assert.Empty(t, pr.Warnings)

	// Unset selection knobs take the documented defaults.
	assert.Equal(t, 0.05, res.Selection.Threshold)
	assert.Equal(t, 10, res.Selection.TopCount)
	assert.Equal(t, 1.0, res.Selection.TopPercent)
}

func TestScreenMultiTauShape(t *testing.T) {
	gen := testkit.NewGenerator(7)
	x, y := gen.TailShiftDataset(120, 8, 3, 0.8)

	taus := domain.TauList{0.25, 0.5, 0.75}
	res, err := newTestEngine().Screen(context.Background(), Request{
		X:       x,
		Y:       y,
		TauList: taus,
		Method:  domain.AdjustQValue,
	})
	require.NoError(t, err)
	require.Len(t, res.Predictors, 8)
	assert.Equal(t, taus, res.TauList)

	for _, pr := range res.Predictors {
		require.Len(t, pr.Sn, 3)
		require.Len(t, pr.PerTauP, 3)
		require.Len(t, pr.PerTauAdj, 3)
		for i := range pr.PerTauP {
			assert.GreaterOrEqual(t, pr.PerTauP[i], 0.0)
			assert.LessOrEqual(t, pr.PerTauP[i], 1.0)
		}
		assert.False(t, math.IsNaN(pr.Combined))
		assert.GreaterOrEqual(t, pr.Adjusted, 0.0)
		assert.LessOrEqual(t, pr.Adjusted, 1.0)
	}
	assert.LessOrEqual(t, len(res.Selection.ByTopCount), 8)
	assert.NotEmpty(t, res.Selection.ByTopPct)
}

func TestScreenDegeneratePredictorIsolated(t *testing.T) {
	y := permuted32()
	n := len(y)
	good := make([]float64, n)
	for i := range good {
		good[i] = float64(i%5) - 2
	}
	zero := make([]float64, n)
	xm := matrix.MustNew([]string{"live", "dead"}, [][]float64{good, zero})

	res, err := newTestEngine().Screen(context.Background(), Request{
		X:       xm,
		Y:       y,
		TauList: domain.TauList{0.5, 0.9},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)

	dead := res.Predictors[1]
	assert.Contains(t, dead.Warnings, domain.WarnDegenerateVariance)
	assert.Equal(t, 1.0, dead.Combined)
	assert.True(t, math.IsNaN(dead.Composite))
	for _, p := range dead.PerTauP {
		assert.Equal(t, 1.0, p)
	}

	// The batch continues and the healthy predictor is untouched.
	live := res.Predictors[0]
	assert.NotContains(t, live.Warnings, domain.WarnDegenerateVariance)
	assert.False(t, math.IsNaN(live.Combined))
	assert.True(t, dead.Flagged(domain.WarnDegenerateVariance))
	assert.Contains(t, res.Flagged(), 1)
}

func TestScreenCovariateDuplicateDegenerates(t *testing.T) {
	gen := testkit.NewGenerator(31)
	x, y, z := gen.CovariateDataset(60, 3, 2)

	// A predictor that copies a covariate residualizes to numerical zero.
	cols := [][]float64{x.ColView(0), x.ColView(1), x.ColView(2), z.Col(0)}
	names := []string{"p1", "p2", "p3", "z_copy"}
	xdup, err := matrix.New(names, cols, nil)
	require.NoError(t, err)

	res, err := newTestEngine().Screen(context.Background(), Request{
		X: xdup, Y: y, Z: z,
		TauList: domain.TauList{0.5},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)

	dup := res.Predictors[3]
	assert.True(t, dup.Flagged(domain.WarnDegenerateVariance))
	assert.Equal(t, 1.0, dup.Combined)
	for j := 0; j < 3; j++ {
		assert.False(t, res.Predictors[j].Flagged(domain.WarnDegenerateVariance))
	}
}

func TestScreenFatalInputs(t *testing.T) {
	y := permuted32()
	x := matrix.MustNew([]string{"x1"}, [][]float64{permuted32()})
	eng := newTestEngine()
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no predictors", Request{Y: y, TauList: domain.TauList{0.5}, Method: domain.AdjustFDR}, core.ErrNoPredictors},
		{"empty response", Request{X: x, TauList: domain.TauList{0.5}, Method: domain.AdjustFDR}, core.ErrEmptyResponse},
		{"row mismatch", Request{X: x, Y: y[:10], TauList: domain.TauList{0.5}, Method: domain.AdjustFDR}, core.ErrRowMismatch},
		{"empty tau list", Request{X: x, Y: y, Method: domain.AdjustFDR}, core.ErrEmptyTauList},
		{"tau out of range", Request{X: x, Y: y, TauList: domain.TauList{1.2}, Method: domain.AdjustFDR}, core.ErrTauOutOfRange},
		{"unknown method", Request{X: x, Y: y, TauList: domain.TauList{0.5}, Method: "bonferroni"}, core.ErrUnknownMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Screen(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestScreenWorkerCountInvariant(t *testing.T) {
	gen := testkit.NewGenerator(11)
	x, y := gen.NullDataset(80, 20)
	req := Request{X: x, Y: y, TauList: domain.TauList{0.25, 0.75}, Method: domain.AdjustFDR}

	seq, err := newTestEngine(WithWorkers(1)).Screen(context.Background(), req)
	require.NoError(t, err)
	par, err := newTestEngine(WithWorkers(4)).Screen(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, par.Predictors, len(seq.Predictors))
	for j := range seq.Predictors {
		assert.Equal(t, seq.Predictors[j].Key, par.Predictors[j].Key)
		for i := range seq.Predictors[j].PerTauP {
			assert.InDelta(t, seq.Predictors[j].PerTauP[i], par.Predictors[j].PerTauP[i], 1e-12,
				fmt.Sprintf("predictor %d tau %d", j, i))
		}
		assert.InDelta(t, seq.Predictors[j].Adjusted, par.Predictors[j].Adjusted, 1e-12)
	}
	assert.Equal(t, seq.Selection.ByThreshold, par.Selection.ByThreshold)
}

func TestScreenCanceledContext(t *testing.T) {
	gen := testkit.NewGenerator(3)
	x, y := gen.NullDataset(40, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().Screen(ctx, Request{
		X: x, Y: y, TauList: domain.TauList{0.5}, Method: domain.AdjustFDR,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScreenWithCovariates(t *testing.T) {
	gen := testkit.NewGenerator(19)
	x, y, z := gen.CovariateDataset(100, 6, 2)

	res, err := newTestEngine().Screen(context.Background(), Request{
		X: x, Y: y, Z: z,
		TauList: domain.TauList{0.5},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)
	require.Len(t, res.Predictors, 6)
	for _, pr := range res.Predictors {
		// Residualized columns shrink but keep real variance.
		assert.Greater(t, pr.XtX, 0.0)
	}
}

func TestResidualizedPathDiffersFromAdjusted(t *testing.T) {
	gen := testkit.NewGenerator(23)
	x, y, z := gen.CovariateDataset(100, 6, 2)
	req := Request{X: x, Y: y, Z: z, TauList: domain.TauList{0.5}, Method: domain.AdjustFDR}
	eng := newTestEngine()

	adjusted, err := eng.Screen(context.Background(), req)
	require.NoError(t, err)
	residual, err := eng.ScreenResidualized(context.Background(), req)
	require.NoError(t, err)

	// The two adjustment schemes are distinct procedures and do not agree
	// numerically on covariate-loaded data.
	different := false
	for j := range adjusted.Predictors {
		if math.Abs(adjusted.Predictors[j].PerTauP[0]-residual.Predictors[j].PerTauP[0]) > 1e-9 {
			different = true
		}
	}
	assert.True(t, different)
}

func TestResidualizedWithoutCovariatesMatchesScreen(t *testing.T) {
	y := permuted32()
	x := make([]float64, len(y))
	for i := range x {
		x[i] = float64(i%4) - 1.5
	}
	xm := matrix.MustNew([]string{"x1"}, [][]float64{x})
	req := Request{X: xm, Y: y, TauList: domain.TauList{0.9}, Method: domain.AdjustFDR}
	eng := newTestEngine()

	a, err := eng.Screen(context.Background(), req)
	require.NoError(t, err)
	b, err := eng.ScreenResidualized(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, a.Predictors[0].PerTauP[0], b.Predictors[0].PerTauP[0], 1e-12)
}

func TestCompareAdjustments(t *testing.T) {
	gen := testkit.NewGenerator(29)
	x, y, z := gen.CovariateDataset(100, 5, 2)

	cmp, err := newTestEngine().CompareAdjustments(context.Background(), Request{
		X: x, Y: y, Z: z,
		TauList: domain.TauList{0.5},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)
	require.NotNil(t, cmp.Adjusted)
	require.NotNil(t, cmp.Residual)
	require.Len(t, cmp.Deltas, 5)
	for _, d := range cmp.Deltas {
		assert.GreaterOrEqual(t, d.MaxPerTauGap, 0.0)
	}
	for _, key := range cmp.Discordant {
		assert.NotEmpty(t, key)
	}
}
