package excel

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qrscreen/domain/core"
	"qrscreen/domain/screen"
)

func sampleResult(combined []float64) *screen.Result {
	result := &screen.Result{
		ScreenID:  core.NewScreenID(),
		TauList:   screen.TauList{0.5, 0.9},
		Method:    screen.AdjustFDR,
		StartedAt: time.Now(),
	}
	for i, c := range combined {
		result.Predictors = append(result.Predictors, screen.PredictorResult{
			Index:     i,
			Key:       core.PredictorKey("x" + string(rune('1'+i))),
			Sn:        []float64{0.1, 0.2},
			PerTauP:   []float64{c, c},
			PerTauAdj: []float64{c, c},
			Composite: c,
			Combined:  c,
			Adjusted:  c,
			XtX:       1,
		})
	}
	return result
}

func TestWriteReportSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.xlsx")
	require.NoError(t, NewReporter().WriteReport(sampleResult([]float64{0.01, 0.3}), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	head, err := f.GetCellValue("Predictors", "A1")
	require.NoError(t, err)
	assert.Equal(t, "predictor", head)

	name, err := f.GetCellValue("Predictors", "A2")
	require.NoError(t, err)
	assert.Equal(t, "x1", name)

	minP, err := f.GetCellValue("Summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "0.01", minP)
}

func TestWriteReportAllNaNCombined(t *testing.T) {
	// Every predictor degenerate: the summary has no distribution to report
	// and must say so instead of printing zeros.
	nan := math.NaN()
	path := filepath.Join(t.TempDir(), "screen.xlsx")
	require.NoError(t, NewReporter().WriteReport(sampleResult([]float64{nan, nan}), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	for _, addr := range []string{"B6", "B7", "B8"} {
		v, err := f.GetCellValue("Summary", addr)
		require.NoError(t, err)
		assert.Equal(t, "n/a", v)
	}
}
