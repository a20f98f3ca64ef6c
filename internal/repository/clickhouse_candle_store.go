package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// CHCandleStore reads and writes 1-minute bars in ClickHouse. Larger
// timeframes are rolled up by the query.
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)

func NewCHCandleStore(db *sql.DB, table string, l *applogger.Logger) *CHCandleStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHCandleStore{db: db, table: table, l: l}
}

// CandleSchema returns the DDL for the candle table.
func CandleSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		market LowCardinality(String),
		bucket DateTime,
		open   Float64,
		high   Float64,
		low    Float64,
		close  Float64,
		volume Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (market, bucket)`, table)}
}

// GetLatestNCandles returns the newest n bars of tf, oldest first.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	start := time.Now()
	q := latestCandlesQuery(s.table, tf)
	rows, err := s.db.QueryContext(ctx, q, market, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles query",
			applogger.Market(market),
			applogger.String("tf", string(tf)),
			applogger.Error(err))
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, n)
	for rows.Next() {
		c := models.Candle{Market: market}
		if err := rows.Scan(&c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// query is DESC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.Market(market),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

// StoreBatch upserts 1-minute bars.
func (s *CHCandleStore) StoreBatch(ctx context.Context, bars []models.Candle) error {
	if len(bars) == 0 {
		return nil
	}
	const chunk = 1000
	for i := 0; i < len(bars); i += chunk {
		end := i + chunk
		if end > len(bars) {
			end = len(bars)
		}
		values := make([]string, 0, end-i)
		args := make([]interface{}, 0, (end-i)*7)
		for _, c := range bars[i:end] {
			if c.Market == "" || c.Bucket.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.Market, c.Bucket.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (market, bucket, open, high, low, close, volume) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store candles: %w", err)
		}
	}
	return nil
}

func latestCandlesQuery(table string, tf models.Timeframe) string {
	if tf == models.TF1m {
		return fmt.Sprintf(`SELECT bucket, open, high, low, close, volume
		FROM %s FINAL
		WHERE market = ?
		ORDER BY bucket DESC
		LIMIT ?`, table)
	}
	secs := int(tf.Duration().Seconds())
	return fmt.Sprintf(`SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b,
		argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(volume)
		FROM %s FINAL
		WHERE market = ?
		GROUP BY b
		ORDER BY b DESC
		LIMIT ?`, secs, table)
}
