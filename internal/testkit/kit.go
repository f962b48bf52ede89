// Package testkit generates deterministic synthetic datasets for screening
// tests, the CLI demo, and benchmarks. All generators are seeded; the same
// seed always reproduces the same matrices.
package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"qrscreen/domain/matrix"
)

// Generator produces synthetic screening datasets from a seeded RNG.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator with the given seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// NullDataset returns p independent standard-normal predictor columns and an
// independent standard-normal response: no predictor carries signal.
func (g *Generator) NullDataset(n, p int) (*matrix.Matrix, []float64) {
	cols := make([][]float64, p)
	names := make([]string, p)
	for j := 0; j < p; j++ {
		names[j] = fmt.Sprintf("x%d", j+1)
		cols[j] = g.normals(n)
	}
	y := g.normals(n)
	x, err := matrix.New(names, cols, nil)
	if err != nil {
		panic(err)
	}
	return x, y
}

// TailShiftDataset plants signal predictors whose effect lives in the upper
// tail of the response: y = eps * (1 + strength * |x_j|) summed over the
// first signal columns. Mean regression sees little; upper quantiles see it.
func (g *Generator) TailShiftDataset(n, p, signal int, strength float64) (*matrix.Matrix, []float64) {
	if signal > p {
		signal = p
	}
	cols := make([][]float64, p)
	names := make([]string, p)
	for j := 0; j < p; j++ {
		names[j] = fmt.Sprintf("x%d", j+1)
		cols[j] = g.normals(n)
	}

	y := make([]float64, n)
	for i := 0; i < n; i++ {
		scale := 1.0
		for j := 0; j < signal; j++ {
			scale += strength * math.Abs(cols[j][i])
		}
		y[i] = g.rng.NormFloat64() * scale
	}
	x, err := matrix.New(names, cols, nil)
	if err != nil {
		panic(err)
	}
	return x, y
}

// CovariateDataset returns predictors, response and q covariate columns
// where both response and predictors load on the covariates, the situation
// that makes the two adjustment paths disagree.
func (g *Generator) CovariateDataset(n, p, q int) (*matrix.Matrix, []float64, *matrix.Matrix) {
	zCols := make([][]float64, q)
	zNames := make([]string, q)
	for j := 0; j < q; j++ {
		zNames[j] = fmt.Sprintf("z%d", j+1)
		zCols[j] = g.normals(n)
	}

	cols := make([][]float64, p)
	names := make([]string, p)
	for j := 0; j < p; j++ {
		names[j] = fmt.Sprintf("x%d", j+1)
		col := g.normals(n)
		for i := 0; i < n; i++ {
			for k := 0; k < q; k++ {
				col[i] += 0.5 * zCols[k][i]
			}
		}
		cols[j] = col
	}

	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = g.rng.NormFloat64()
		for k := 0; k < q; k++ {
			y[i] += 0.8 * zCols[k][i]
		}
	}

	x, err := matrix.New(names, cols, nil)
	if err != nil {
		panic(err)
	}
	z, err := matrix.New(zNames, zCols, nil)
	if err != nil {
		panic(err)
	}
	return x, y, z
}

// DistinctValues returns n strictly increasing values with irregular gaps,
// handy when a test needs a unique sample quantile.
func (g *Generator) DistinctValues(n int) []float64 {
	out := make([]float64, n)
	v := 0.0
	for i := 0; i < n; i++ {
		v += 0.5 + g.rng.Float64()
		out[i] = v
	}
	return out
}

func (g *Generator) normals(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.rng.NormFloat64()
	}
	return out
}

// Describe returns mean and standard deviation of a column, used by tests
// and the CLI to sanity-check generated data.
func Describe(col []float64) (mean, sd float64) {
	mean, _ = stats.Mean(col)
	sd, _ = stats.StandardDeviation(col)
	return mean, sd
}
