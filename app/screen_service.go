// Package app wires the screening engine to its configuration and
// infrastructure ports: optional result persistence and report export sit
// here, outside the purely functional core.
package app

import (
	"context"

	"qrscreen/domain/screen"
	"qrscreen/internal"
	"qrscreen/internal/config"
	appErrors "qrscreen/internal/errors"
	screenengine "qrscreen/internal/screen"
	"qrscreen/ports"
)

// ScreenService orchestrates screening invocations around the engine.
type ScreenService struct {
	engine   *screenengine.Engine
	ledger   ports.ScreenLedger
	reporter ports.ScreenReporter
	cfg      config.ScreenConfig
	log      *internal.Logger
}

// NewScreenService creates the service. Ledger and reporter may be nil; the
// corresponding steps are skipped.
func NewScreenService(engine *screenengine.Engine, ledger ports.ScreenLedger, reporter ports.ScreenReporter, cfg config.ScreenConfig) *ScreenService {
	return &ScreenService{
		engine:   engine,
		ledger:   ledger,
		reporter: reporter,
		cfg:      cfg,
		log:      internal.DefaultLogger,
	}
}

// RunOptions control post-screen side effects.
type RunOptions struct {
	Persist    bool
	ReportPath string
}

// RunScreen executes the covariate-adjusted screen, then persists and
// exports per the options. Side-effect failures are wrapped, not swallowed.
func (s *ScreenService) RunScreen(ctx context.Context, req screenengine.Request, opts RunOptions) (*screen.Result, error) {
	s.applyDefaults(&req)
	result, err := s.engine.Screen(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, result, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// RunResidualizedScreen executes the pre-residualization shortcut path.
func (s *ScreenService) RunResidualizedScreen(ctx context.Context, req screenengine.Request, opts RunOptions) (*screen.Result, error) {
	s.applyDefaults(&req)
	result, err := s.engine.ScreenResidualized(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, result, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// RunComparison executes both paths and reports their disagreement.
func (s *ScreenService) RunComparison(ctx context.Context, req screenengine.Request) (*screen.Comparison, error) {
	s.applyDefaults(&req)
	return s.engine.CompareAdjustments(ctx, req)
}

func (s *ScreenService) applyDefaults(req *screenengine.Request) {
	if req.Threshold == 0 {
		req.Threshold = s.cfg.Threshold
	}
	if req.TopCount == 0 {
		req.TopCount = s.cfg.TopCount
	}
	if req.TopPercent == 0 {
		req.TopPercent = s.cfg.TopPercent
	}
}

func (s *ScreenService) finish(ctx context.Context, result *screen.Result, opts RunOptions) error {
	if opts.Persist && s.ledger != nil {
		if err := s.ledger.SaveResult(ctx, result); err != nil {
			return appErrors.LedgerError("persisting screen result", err)
		}
		s.log.Info("screen %s persisted (%d predictors)", result.ScreenID, len(result.Predictors))
	}
	if opts.ReportPath != "" && s.reporter != nil {
		if err := s.reporter.WriteReport(result, opts.ReportPath); err != nil {
			return appErrors.Wrap(err, "writing screen report")
		}
		s.log.Info("screen %s report written to %s", result.ScreenID, opts.ReportPath)
	}
	return nil
}
