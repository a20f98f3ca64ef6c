package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// SQLiteJournal keeps closed trades in a local SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

var _ domrepo.Journal = (*SQLiteJournal)(nil)

const journalSchema = `CREATE TABLE IF NOT EXISTS closed_trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	market      TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	volume      REAL NOT NULL,
	opened_at   INTEGER NOT NULL,
	closed_at   INTEGER NOT NULL,
	realized_pl REAL NOT NULL,
	return_pct  REAL NOT NULL,
	origin      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	order_key   TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_market ON closed_trades(market, closed_at);`

// NewSQLiteJournal opens (or creates) the journal at path.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal wal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordClosed inserts t. Re-recording the same order key is a no-op.
func (j *SQLiteJournal) RecordClosed(ctx context.Context, t models.ClosedTrade) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO closed_trades
		(market, entry_price, exit_price, volume, opened_at, closed_at, realized_pl, return_pct, origin, reason, order_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Market, t.EntryPrice, t.ExitPrice, t.Volume,
		t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli(),
		t.RealizedPL, t.ReturnPct, string(t.Origin), t.Reason, t.OrderKey,
	)
	if err != nil {
		return fmt.Errorf("record closed trade %s: %w", t.Market, err)
	}
	return nil
}

// Recent returns up to limit trades, newest first. An empty market means all.
func (j *SQLiteJournal) Recent(ctx context.Context, market string, limit int) ([]models.ClosedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT market, entry_price, exit_price, volume, opened_at, closed_at, realized_pl, return_pct, origin, reason, order_key
		FROM closed_trades`
	args := []interface{}{}
	if market != "" {
		q += ` WHERE market = ?`
		args = append(args, market)
	}
	q += ` ORDER BY closed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []models.ClosedTrade
	for rows.Next() {
		var (
			t              models.ClosedTrade
			opened, closed int64
			origin         string
		)
		if err := rows.Scan(&t.Market, &t.EntryPrice, &t.ExitPrice, &t.Volume, &opened, &closed,
			&t.RealizedPL, &t.ReturnPct, &origin, &t.Reason, &t.OrderKey); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.OpenedAt = time.UnixMilli(opened).UTC()
		t.ClosedAt = time.UnixMilli(closed).UTC()
		t.Origin = models.Origin(origin)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }
