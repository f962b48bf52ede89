package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrscreen/adapters/excel"
	"qrscreen/domain/core"
	domain "qrscreen/domain/screen"
	"qrscreen/internal/config"
	appErrors "qrscreen/internal/errors"
	"qrscreen/internal/linalg"
	"qrscreen/internal/quantreg"
	screenengine "qrscreen/internal/screen"
	"qrscreen/internal/testkit"
)

func testConfig() config.ScreenConfig {
	return config.ScreenConfig{Threshold: 0.05, TopCount: 10, TopPercent: 1, Workers: 2}
}

func testRequest(seed int64) screenengine.Request {
	gen := testkit.NewGenerator(seed)
	x, y := gen.TailShiftDataset(80, 6, 2, 0.8)
	return screenengine.Request{
		X:       x,
		Y:       y,
		TauList: domain.TauList{0.5, 0.75},
		Method:  domain.AdjustFDR,
	}
}

func TestRunScreenPersistsToLedger(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	ledger := testkit.NewInMemoryLedger()
	svc := NewScreenService(engine, ledger, nil, testConfig())

	result, err := svc.RunScreen(context.Background(), testRequest(5), RunOptions{Persist: true})
	require.NoError(t, err)
	require.NotEmpty(t, result.ScreenID)

	stored, err := ledger.GetResult(context.Background(), result.ScreenID)
	require.NoError(t, err)
	assert.Equal(t, result.ScreenID, stored.ScreenID)
	assert.Len(t, stored.Predictors, len(result.Predictors))

	ids, err := ledger.ListScreens(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, ids, result.ScreenID)
}

func TestRunScreenSkipsLedgerWhenNotRequested(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	ledger := testkit.NewInMemoryLedger()
	svc := NewScreenService(engine, ledger, nil, testConfig())

	result, err := svc.RunScreen(context.Background(), testRequest(5), RunOptions{})
	require.NoError(t, err)

	_, err = ledger.GetResult(context.Background(), result.ScreenID)
	require.ErrorIs(t, err, core.ErrScreenNotFound)
}

type failingLedger struct{ *testkit.InMemoryLedger }

func (failingLedger) SaveResult(context.Context, *domain.Result) error {
	return errors.New("connection refused")
}

func TestRunScreenWrapsLedgerFailure(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	svc := NewScreenService(engine, failingLedger{testkit.NewInMemoryLedger()}, nil, testConfig())

	_, err := svc.RunScreen(context.Background(), testRequest(5), RunOptions{Persist: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.CodeLedgerError, appErrors.GetCode(err))
}

func TestRunScreenWritesReport(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	svc := NewScreenService(engine, nil, excel.NewReporter(), testConfig())

	path := filepath.Join(t.TempDir(), "screen.xlsx")
	_, err := svc.RunScreen(context.Background(), testRequest(9), RunOptions{ReportPath: path})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRunScreenAppliesConfigDefaults(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	cfg := testConfig()
	cfg.Threshold = 0.10
	cfg.TopCount = 3
	svc := NewScreenService(engine, nil, nil, cfg)

	result, err := svc.RunScreen(context.Background(), testRequest(13), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.10, result.Selection.Threshold)
	assert.LessOrEqual(t, len(result.Selection.ByTopCount), 3)
}

func TestRunComparison(t *testing.T) {
	engine := screenengine.NewEngine(quantreg.NewSolver(), linalg.NewOLSResidualizer())
	svc := NewScreenService(engine, nil, nil, testConfig())

	gen := testkit.NewGenerator(17)
	x, y, z := gen.CovariateDataset(80, 4, 2)
	cmp, err := svc.RunComparison(context.Background(), screenengine.Request{
		X: x, Y: y, Z: z,
		TauList: domain.TauList{0.5},
		Method:  domain.AdjustFDR,
	})
	require.NoError(t, err)
	assert.Len(t, cmp.Deltas, 4)
}
