package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"qrscreen/adapters/excel"
	"qrscreen/adapters/postgres"
	"qrscreen/app"
	domain "qrscreen/domain/screen"
	"qrscreen/internal/config"
	"qrscreen/internal/linalg"
	"qrscreen/internal/quantreg"
	screenengine "qrscreen/internal/screen"
	"qrscreen/internal/testkit"
	"qrscreen/ports"
)

func main() {
	// Optional .env for local runs; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "qrscreen",
		Short: "Quantile rank-score screening over synthetic scan data",
	}

	rootCmd.AddCommand(
		newScreenCmd(),
		newCompareCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type screenFlags struct {
	n          int
	predictors int
	covariates int
	signal     int
	strength   float64
	seed       int64
	taus       []float64
	method     string
	threshold  float64
	topCount   int
	topPercent float64
	report     string
	persist    bool
}

func (f *screenFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.n, "n", 500, "observations")
	cmd.Flags().IntVar(&f.predictors, "predictors", 200, "candidate predictor columns")
	cmd.Flags().IntVar(&f.covariates, "covariates", 0, "covariate columns")
	cmd.Flags().IntVar(&f.signal, "signal", 5, "predictors carrying tail signal")
	cmd.Flags().Float64Var(&f.strength, "strength", 0.8, "tail signal strength")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "generator seed")
	cmd.Flags().Float64SliceVar(&f.taus, "taus", []float64{0.25, 0.5, 0.75, 0.9}, "quantile levels")
	cmd.Flags().StringVar(&f.method, "method", "fdr", "adjustment method (fdr|qvalue)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "adjusted p-value cutoff (0 = config default)")
	cmd.Flags().IntVar(&f.topCount, "top-count", 0, "top-count selection size (0 = config default)")
	cmd.Flags().Float64Var(&f.topPercent, "top-percent", 0, "top-percent selection (0 = config default)")
	cmd.Flags().StringVar(&f.report, "report", "", "write an xlsx report to this path")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "persist the result to the configured ledger")
}

func (f *screenFlags) buildRequest() screenengine.Request {
	gen := testkit.NewGenerator(f.seed)
	taus := make(domain.TauList, len(f.taus))
	for i, t := range f.taus {
		taus[i] = domain.QuantileLevel(t)
	}
	req := screenengine.Request{
		TauList:    taus,
		Method:     domain.AdjustMethod(f.method),
		Threshold:  f.threshold,
		TopCount:   f.topCount,
		TopPercent: f.topPercent,
	}
	if f.covariates > 0 {
		req.X, req.Y, req.Z = gen.CovariateDataset(f.n, f.predictors, f.covariates)
	} else {
		req.X, req.Y = gen.TailShiftDataset(f.n, f.predictors, f.signal, f.strength)
	}
	return req
}

func newService(ctx context.Context, cfg *config.Config) (*app.ScreenService, func(), error) {
	engine := screenengine.NewEngine(
		quantreg.NewSolver(),
		linalg.NewOLSResidualizer(),
		screenengine.WithWorkers(cfg.Screen.Workers),
	)

	var ledger ports.ScreenLedger = testkit.NewInMemoryLedger()
	cleanup := func() {}
	if cfg.Ledger.Enabled {
		pg, err := postgres.NewLedger(ctx, cfg.Ledger.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		ledger = pg
		cleanup = func() { pg.Close() }
	}

	return app.NewScreenService(engine, ledger, excel.NewReporter(), cfg.Screen), cleanup, nil
}

func newScreenCmd() *cobra.Command {
	var flags screenFlags
	var residualized bool

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Run a quantile rank-score screen over generated scan data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, cleanup, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			req := flags.buildRequest()
			opts := app.RunOptions{Persist: flags.persist, ReportPath: flags.report}

			var result *domain.Result
			if residualized {
				result, err = svc.RunResidualizedScreen(cmd.Context(), req, opts)
			} else {
				result, err = svc.RunScreen(cmd.Context(), req, opts)
			}
			if err != nil {
				return err
			}
			printScreenSummary(result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&residualized, "residualized", false, "use the pre-residualization shortcut path")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var flags screenFlags

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run both adjustment paths and report their disagreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, cleanup, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			cmp, err := svc.RunComparison(cmd.Context(), flags.buildRequest())
			if err != nil {
				return err
			}
			fmt.Printf("discordant calls: %d of %d predictors\n", len(cmp.Discordant), len(cmp.Deltas))
			for _, d := range cmp.Deltas {
				if d.CallFlipped {
					fmt.Printf("  %-12s combined delta %+.4g  max per-tau gap %.4g\n",
						d.Key, d.CombinedDelta, d.MaxPerTauGap)
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printScreenSummary(result *domain.Result) {
	fmt.Printf("screen %s: %d predictors, method=%s, runtime %dms\n",
		result.ScreenID, len(result.Predictors), result.Method, result.RuntimeMs)
	fmt.Printf("selected: %d by threshold (<%.3g), %d top-count, %d top-percent; %d flagged\n",
		len(result.Selection.ByThreshold), result.Selection.Threshold,
		len(result.Selection.ByTopCount), len(result.Selection.ByTopPct),
		len(result.Flagged()))
	for _, i := range result.Selection.ByTopCount {
		p := &result.Predictors[i]
		fmt.Printf("  %-12s combined=%.4g adjusted=%.4g\n", p.Key, p.Combined, p.Adjusted)
	}
}
