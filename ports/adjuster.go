package ports

// Adjuster applies a multiple-testing correction to a vector of p-values.
// The output has the same length and order as the input.
type Adjuster interface {
	Adjust(pvalues []float64) []float64
	Name() string
}

// Combiner collapses a vector of (possibly correlated) p-values into one.
// Implementations must be order-invariant.
type Combiner interface {
	Combine(pvalues []float64) float64
}
