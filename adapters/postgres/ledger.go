// Package postgres persists screen results for long scans whose outputs
// need to outlive the process. The screening core never touches this; it is
// an optional adapter behind ports.ScreenLedger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"qrscreen/domain/core"
	"qrscreen/domain/screen"
	apperrors "qrscreen/internal/errors"
	"qrscreen/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS screens (
	id          TEXT PRIMARY KEY,
	method      TEXT NOT NULL,
	tau_list    DOUBLE PRECISION[] NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	runtime_ms  BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS screen_predictors (
	screen_id   TEXT NOT NULL REFERENCES screens(id) ON DELETE CASCADE,
	idx         INT NOT NULL,
	key         TEXT NOT NULL,
	combined_p  DOUBLE PRECISION,
	adjusted_p  DOUBLE PRECISION,
	composite_p DOUBLE PRECISION,
	per_tau_p   DOUBLE PRECISION[] NOT NULL,
	per_tau_adj DOUBLE PRECISION[] NOT NULL,
	xtx         DOUBLE PRECISION NOT NULL,
	warnings    TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (screen_id, idx)
);`

// Ledger implements ports.ScreenLedger on PostgreSQL.
type Ledger struct {
	db *sqlx.DB
}

// NewLedger connects and ensures the schema exists.
func NewLedger(ctx context.Context, databaseURL string) (*Ledger, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, apperrors.LedgerError("connecting to postgres", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperrors.LedgerError("creating ledger schema", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the connection pool.
func (l *Ledger) Close() error { return l.db.Close() }

// SaveResult writes the screen header and its per-predictor rows in one
// transaction.
func (l *Ledger) SaveResult(ctx context.Context, result *screen.Result) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.LedgerError("starting transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO screens (id, method, tau_list, started_at, runtime_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, result.ScreenID.String(), string(result.Method),
		pq.Array(result.TauList.Float64s()), result.StartedAt, result.RuntimeMs)
	if err != nil {
		return apperrors.LedgerError("inserting screen", err)
	}

	for i := range result.Predictors {
		p := &result.Predictors[i]
		warnings := make([]string, len(p.Warnings))
		for k, w := range p.Warnings {
			warnings[k] = string(w)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO screen_predictors
				(screen_id, idx, key, combined_p, adjusted_p, composite_p, per_tau_p, per_tau_adj, xtx, warnings)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (screen_id, idx) DO NOTHING
		`, result.ScreenID.String(), p.Index, string(p.Key),
			nullable(p.Combined), nullable(p.Adjusted), nullable(p.Composite),
			pq.Array(p.PerTauP), pq.Array(p.PerTauAdj), p.XtX, pq.Array(warnings))
		if err != nil {
			return apperrors.LedgerError("inserting predictor row", err)
		}
	}
	return tx.Commit()
}

// GetResult reconstructs a stored screen. Selection sets are views over the
// adjusted values, so they are rebuilt by the caller, not stored.
func (l *Ledger) GetResult(ctx context.Context, id core.ScreenID) (*screen.Result, error) {
	var header struct {
		Method    string          `db:"method"`
		TauList   pq.Float64Array `db:"tau_list"`
		StartedAt time.Time       `db:"started_at"`
		RuntimeMs int64           `db:"runtime_ms"`
	}
	err := l.db.GetContext(ctx, &header,
		`SELECT method, tau_list, started_at, runtime_ms FROM screens WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrScreenNotFound
	}
	if err != nil {
		return nil, apperrors.LedgerError("loading screen", err)
	}

	taus := make(screen.TauList, len(header.TauList))
	for i, t := range header.TauList {
		taus[i] = screen.QuantileLevel(t)
	}
	result := &screen.Result{
		ScreenID:  id,
		TauList:   taus,
		Method:    screen.AdjustMethod(header.Method),
		StartedAt: header.StartedAt,
		RuntimeMs: header.RuntimeMs,
	}

	rows, err := l.db.QueryxContext(ctx, `
		SELECT idx, key, combined_p, adjusted_p, composite_p, per_tau_p, per_tau_adj, xtx, warnings
		FROM screen_predictors WHERE screen_id = $1 ORDER BY idx
	`, id.String())
	if err != nil {
		return nil, apperrors.LedgerError("loading predictor rows", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row struct {
			Idx       int             `db:"idx"`
			Key       string          `db:"key"`
			Combined  sql.NullFloat64 `db:"combined_p"`
			Adjusted  sql.NullFloat64 `db:"adjusted_p"`
			Composite sql.NullFloat64 `db:"composite_p"`
			PerTauP   pq.Float64Array `db:"per_tau_p"`
			PerTauAdj pq.Float64Array `db:"per_tau_adj"`
			XtX       float64         `db:"xtx"`
			Warnings  pq.StringArray  `db:"warnings"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, apperrors.LedgerError("scanning predictor row", err)
		}
		p := screen.PredictorResult{
			Index:     row.Idx,
			Key:       core.PredictorKey(row.Key),
			Combined:  fromNullable(row.Combined),
			Adjusted:  fromNullable(row.Adjusted),
			Composite: fromNullable(row.Composite),
			PerTauP:   row.PerTauP,
			PerTauAdj: row.PerTauAdj,
			XtX:       row.XtX,
		}
		for _, w := range row.Warnings {
			p.Warnings = append(p.Warnings, screen.WarningCode(w))
		}
		result.Predictors = append(result.Predictors, p)
	}
	return result, rows.Err()
}

// ListScreens returns recent screen IDs, newest first.
func (l *Ledger) ListScreens(ctx context.Context, limit int) ([]core.ScreenID, error) {
	var raw []string
	err := l.db.SelectContext(ctx, &raw,
		`SELECT id FROM screens ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.LedgerError("listing screens", err)
	}
	ids := make([]core.ScreenID, len(raw))
	for i, id := range raw {
		ids[i] = core.ScreenID(id)
	}
	return ids, nil
}

// nullable maps NaN to SQL NULL; Postgres doubles accept NaN but NULL keeps
// aggregate queries sane.
func nullable(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

var _ ports.ScreenLedger = (*Ledger)(nil)
