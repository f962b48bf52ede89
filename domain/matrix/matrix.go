// Package matrix holds the immutable numeric matrix type shared by the
// screening engine and its adapters. Data is stored column-major because
// every consumer walks whole columns (predictors, covariates), never rows.
package matrix

import (
	"fmt"

	"qrscreen/domain/core"
)

// Matrix is an immutable numeric matrix with named rows and columns.
type Matrix struct {
	rowNames []string
	colNames []string
	cols     [][]float64
}

// New builds a matrix from column-major data. Column names are required;
// row names are optional and synthesized ("r1", "r2", ...) when nil.
func New(colNames []string, cols [][]float64, rowNames []string) (*Matrix, error) {
	if len(colNames) != len(cols) {
		return nil, fmt.Errorf("have %d column names for %d columns", len(colNames), len(cols))
	}
	if len(cols) == 0 {
		return nil, core.ErrNoPredictors
	}
	n := len(cols[0])
	for j, c := range cols {
		if len(c) != n {
			return nil, core.NewRowMismatchError(fmt.Sprintf("column %q", colNames[j]), len(c), n)
		}
	}
	if rowNames == nil {
		rowNames = make([]string, n)
		for i := range rowNames {
			rowNames[i] = fmt.Sprintf("r%d", i+1)
		}
	}
	if len(rowNames) != n {
		return nil, core.NewRowMismatchError("row names", len(rowNames), n)
	}

	// Defensive copies keep the matrix immutable after construction.
	m := &Matrix{
		rowNames: append([]string(nil), rowNames...),
		colNames: append([]string(nil), colNames...),
		cols:     make([][]float64, len(cols)),
	}
	for j, c := range cols {
		m.cols[j] = append([]float64(nil), c...)
	}
	return m, nil
}

// MustNew is New for fixtures that are known valid.
func MustNew(colNames []string, cols [][]float64) *Matrix {
	m, err := New(colNames, cols, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// Rows returns the number of observations.
func (m *Matrix) Rows() int {
	if len(m.cols) == 0 {
		return 0
	}
	return len(m.cols[0])
}

// Cols returns the number of variables.
func (m *Matrix) Cols() int { return len(m.cols) }

// ColNames returns a copy of the column names.
func (m *Matrix) ColNames() []string {
	return append([]string(nil), m.colNames...)
}

// RowNames returns a copy of the row names.
func (m *Matrix) RowNames() []string {
	return append([]string(nil), m.rowNames...)
}

// ColName returns the name of column j.
func (m *Matrix) ColName(j int) string { return m.colNames[j] }

// Col returns a copy of column j.
func (m *Matrix) Col(j int) []float64 {
	return append([]float64(nil), m.cols[j]...)
}

// ColView returns column j without copying. Callers must not mutate it.
func (m *Matrix) ColView(j int) []float64 { return m.cols[j] }

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.cols[j][i] }

// WithIntercept returns [1 | m]: a leading all-ones column followed by
// every column of m. With a nil receiver it returns the bare intercept
// design of n rows, which is the zz used when no covariates are supplied.
func (m *Matrix) WithIntercept(n int) (*Matrix, error) {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	if m == nil {
		return New([]string{"intercept"}, [][]float64{ones}, nil)
	}
	if m.Rows() != n {
		return nil, core.NewRowMismatchError("covariates", m.Rows(), n)
	}
	names := append([]string{"intercept"}, m.colNames...)
	cols := append([][]float64{ones}, m.cols...)
	return New(names, cols, m.rowNames)
}

// Dense returns the matrix as row-major [][]float64, one slice per row.
// Used by adapters that need row iteration (reports, ledgers).
func (m *Matrix) Dense() [][]float64 {
	n := m.Rows()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(m.cols))
		for j := range m.cols {
			row[j] = m.cols[j][i]
		}
		out[i] = row
	}
	return out
}
