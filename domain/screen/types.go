package screen

import (
	"math"
	"time"

	"qrscreen/domain/core"
)

// QuantileLevel is a quantile order strictly between 0 and 1.
type QuantileLevel float64

// Valid reports whether the level lies in the open unit interval.
func (q QuantileLevel) Valid() bool {
	return float64(q) > 0 && float64(q) < 1 && !math.IsNaN(float64(q))
}

// TauList is an ordered set of quantile levels. Order matters only for
// reporting; the covariance computation treats the levels as a set.
type TauList []QuantileLevel

// Validate checks the tau list invariants from the screen contract.
func (ts TauList) Validate() error {
	if len(ts) == 0 {
		return core.ErrEmptyTauList
	}
	for _, tau := range ts {
		if !tau.Valid() {
			return core.NewTauError(float64(tau))
		}
	}
	return nil
}

// Float64s returns the levels as a plain float64 slice.
func (ts TauList) Float64s() []float64 {
	out := make([]float64, len(ts))
	for i, tau := range ts {
		out[i] = float64(tau)
	}
	return out
}

// AdjustMethod selects the multiple-testing correction applied to a screen.
type AdjustMethod string

const (
	// AdjustFDR applies Benjamini-Hochberg step-up correction
	AdjustFDR AdjustMethod = "fdr"
	// AdjustQValue applies Storey q-value correction
	AdjustQValue AdjustMethod = "qvalue"
)

// Validate rejects unknown method names before any per-predictor work runs.
func (m AdjustMethod) Validate() error {
	switch m {
	case AdjustFDR, AdjustQValue:
		return nil
	default:
		return core.NewUnknownMethodError(string(m))
	}
}

// WarningCode tags a non-fatal per-predictor or solver-level condition.
type WarningCode string

const (
	// WarnDegenerateVariance marks a predictor whose residualized column has
	// zero (or numerically zero) variance; its p-values are fixed at 1
	WarnDegenerateVariance WarningCode = "DEGENERATE_VARIANCE"
	// WarnNotPositiveDefinite marks a predictor whose scaled covariance
	// failed Cholesky factorization; its composite p-value is NaN
	WarnNotPositiveDefinite WarningCode = "NOT_POSITIVE_DEFINITE"
	// WarnSolverNonUnique records a solver fit with a non-unique dual
	WarnSolverNonUnique WarningCode = "SOLVER_NON_UNIQUE"
)

// RankVector is the rank-score process at one quantile level: the solver's
// dual vector shifted by -(1-tau), one entry per observation.
type RankVector struct {
	Tau    QuantileLevel `json:"tau"`
	Scores []float64     `json:"scores"`
}

// PredictorResult is the complete screening outcome for one predictor column.
// Every input predictor gets exactly one record; degenerate predictors are
// flagged, never dropped.
type PredictorResult struct {
	Index     int               `json:"index"`
	Key       core.PredictorKey `json:"key"`
	Sn        []float64         `json:"sn"`          // score statistic per tau
	PerTauP   []float64         `json:"per_tau_p"`   // chi-square(1) upper tail per tau
	PerTauAdj []float64         `json:"per_tau_adj"` // adjusted per-tau p-values
	Composite float64           `json:"composite"`   // whitened quadratic-form p, NaN if Cholesky failed
	Combined  float64           `json:"combined"`    // Cauchy combination of PerTauP
	Adjusted  float64           `json:"adjusted"`    // adjusted Combined
	XtX       float64           `json:"xtx"`         // xstar'xstar variance scale
	Warnings  []WarningCode     `json:"warnings,omitempty"`
}

// Flagged reports whether the predictor carries the given warning.
func (r *PredictorResult) Flagged(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// Selection holds the three derived candidate sets over one adjusted ranking.
// The sets are views: they must be recomputed whenever Adjusted changes.
type Selection struct {
	Threshold  float64 `json:"threshold"`
	TopCount   int     `json:"top_count"`
	TopPercent float64 `json:"top_percent"`

	ByThreshold []int `json:"by_threshold"` // {i : adjusted_p[i] < Threshold}
	ByTopCount  []int `json:"by_top_count"`
	ByTopPct    []int `json:"by_top_pct"`
}

// Result aggregates one screening invocation. Immutable once returned.
type Result struct {
	ScreenID   core.ScreenID     `json:"screen_id"`
	TauList    TauList           `json:"tau_list"`
	Method     AdjustMethod      `json:"method"`
	Predictors []PredictorResult `json:"predictors"`
	Selection  Selection         `json:"selection"`
	Warnings   []WarningCode     `json:"warnings,omitempty"` // screen-level (solver) warnings
	StartedAt  time.Time         `json:"started_at"`
	RuntimeMs  int64             `json:"runtime_ms"`
}

// Flagged returns the indices of predictors carrying any warning.
func (r *Result) Flagged() []int {
	var out []int
	for i := range r.Predictors {
		if len(r.Predictors[i].Warnings) > 0 {
			out = append(out, i)
		}
	}
	return out
}

// Comparison reports, per predictor, how the covariate-in-design screen and
// the pre-residualized screen disagree. The two paths are intentionally kept
// independent; empirically they do not coincide.
type Comparison struct {
	ScreenID   core.ScreenID      `json:"screen_id"`
	Adjusted   *Result            `json:"adjusted"`
	Residual   *Result            `json:"residualized"`
	Deltas     []ComparisonDelta  `json:"deltas"`
	Discordant []core.PredictorKey `json:"discordant"` // significance calls that flip between paths
}

// ComparisonDelta is the per-predictor disagreement between the two paths.
type ComparisonDelta struct {
	Key           core.PredictorKey `json:"key"`
	CombinedDelta float64           `json:"combined_delta"` // adjusted-path minus residual-path combined p
	MaxPerTauGap  float64           `json:"max_per_tau_gap"`
	CallFlipped   bool              `json:"call_flipped"`
}
