// Package excel renders completed screen results to xlsx workbooks.
// Presentation only; the screening core never imports this.
package excel

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/xuri/excelize/v2"

	"qrscreen/domain/screen"
	"qrscreen/internal/errors"
	"qrscreen/ports"
)

// Reporter writes a screen result as a two-sheet workbook: per-predictor
// rows plus a summary sheet with selection sets and p-value distribution.
type Reporter struct{}

// NewReporter creates the xlsx reporter.
func NewReporter() ports.ScreenReporter {
	return &Reporter{}
}

// WriteReport writes the workbook to path.
func (r *Reporter) WriteReport(result *screen.Result, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Predictors"
	f.SetSheetName("Sheet1", sheet)

	headers := []interface{}{"predictor", "combined_p", "adjusted_p", "composite_p"}
	for _, tau := range result.TauList {
		headers = append(headers, fmt.Sprintf("p_tau%.3g", float64(tau)))
	}
	for _, tau := range result.TauList {
		headers = append(headers, fmt.Sprintf("adj_tau%.3g", float64(tau)))
	}
	headers = append(headers, "flags")
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return errors.New(errors.CodeReportError, err.Error())
	}

	for i := range result.Predictors {
		p := &result.Predictors[i]
		row := []interface{}{string(p.Key), cell(p.Combined), cell(p.Adjusted), cell(p.Composite)}
		for _, v := range p.PerTauP {
			row = append(row, cell(v))
		}
		for _, v := range p.PerTauAdj {
			row = append(row, cell(v))
		}
		row = append(row, flagString(p.Warnings))
		addr, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return errors.New(errors.CodeReportError, err.Error())
		}
	}

	if err := r.writeSummary(f, result); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "saving report to %s", path)
	}
	return nil
}

func (r *Reporter) writeSummary(f *excelize.File, result *screen.Result) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.New(errors.CodeReportError, err.Error())
	}

	var combined []float64
	for i := range result.Predictors {
		if !math.IsNaN(result.Predictors[i].Combined) {
			combined = append(combined, result.Predictors[i].Combined)
		}
	}
	// An all-NaN column has no distribution to summarize.
	minP, medP, maxP := interface{}("n/a"), interface{}("n/a"), interface{}("n/a")
	if len(combined) > 0 {
		mn, _ := stats.Min(combined)
		md, _ := stats.Median(combined)
		mx, _ := stats.Max(combined)
		minP, medP, maxP = mn, md, mx
	}

	rows := [][]interface{}{
		{"screen_id", result.ScreenID.String()},
		{"method", string(result.Method)},
		{"predictors", len(result.Predictors)},
		{"flagged", len(result.Flagged())},
		{"runtime_ms", result.RuntimeMs},
		{"combined_p min", minP},
		{"combined_p median", medP},
		{"combined_p max", maxP},
		{"selected by threshold", len(result.Selection.ByThreshold)},
		{"selected top-count", len(result.Selection.ByTopCount)},
		{"selected top-percent", len(result.Selection.ByTopPct)},
	}
	for i, row := range rows {
		addr, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return errors.New(errors.CodeReportError, err.Error())
		}
	}
	return nil
}

// cell maps NaN to an empty cell; excelize rejects NaN floats.
func cell(v float64) interface{} {
	if math.IsNaN(v) {
		return ""
	}
	return v
}

func flagString(ws []screen.WarningCode) string {
	out := ""
	for i, w := range ws {
		if i > 0 {
			out += ";"
		}
		out += string(w)
	}
	return out
}
