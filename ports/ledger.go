package ports

import (
	"context"

	"qrscreen/domain/core"
	"qrscreen/domain/screen"
)

// ScreenLedger persists completed screen results. The screening engine
// itself never touches the ledger; it exists for callers running long scans
// who want the per-predictor rows queryable afterwards.
type ScreenLedger interface {
	SaveResult(ctx context.Context, result *screen.Result) error
	GetResult(ctx context.Context, id core.ScreenID) (*screen.Result, error)
	ListScreens(ctx context.Context, limit int) ([]core.ScreenID, error)
}

// ScreenReporter renders a completed screen result to a caller-facing
// artifact (workbook, table). Presentation only, outside the core.
type ScreenReporter interface {
	WriteReport(result *screen.Result, path string) error
}
