package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Fatal input errors: these abort a screen before any per-predictor work
	ErrRowMismatch   = errors.New("row count mismatch between inputs")
	ErrEmptyTauList  = errors.New("quantile level list is empty")
	ErrTauOutOfRange = errors.New("quantile level outside (0,1)")
	ErrUnknownMethod = errors.New("unknown adjustment method")
	ErrNoPredictors  = errors.New("predictor matrix has no columns")
	ErrEmptyResponse = errors.New("response vector is empty")

	// Solver errors
	ErrSolverFailed     = errors.New("quantile solver failed")
	ErrSingularDesign   = errors.New("design matrix is singular")
	ErrInsufficientData = errors.New("insufficient observations for design")

	// Infrastructure errors
	ErrLedgerUnavailable = errors.New("screen ledger unavailable")
	ErrScreenNotFound    = errors.New("screen not found")
)

// Error constructors with context
func NewRowMismatchError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has %d rows, expected %d", ErrRowMismatch, what, got, want)
}

func NewTauError(tau float64) error {
	return fmt.Errorf("%w: %g", ErrTauOutOfRange, tau)
}

func NewUnknownMethodError(method string) error {
	return fmt.Errorf("%w: %q (expected \"fdr\" or \"qvalue\")", ErrUnknownMethod, method)
}

func NewSolverError(tau float64, err error) error {
	return fmt.Errorf("%w at tau=%g: %v", ErrSolverFailed, tau, err)
}

// Error checking helpers
func IsFatalInputError(err error) bool {
	return errors.Is(err, ErrRowMismatch) ||
		errors.Is(err, ErrEmptyTauList) ||
		errors.Is(err, ErrTauOutOfRange) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrNoPredictors) ||
		errors.Is(err, ErrEmptyResponse)
}

func IsSolverError(err error) bool {
	return errors.Is(err, ErrSolverFailed) ||
		errors.Is(err, ErrSingularDesign) ||
		errors.Is(err, ErrInsufficientData)
}
