package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// BarArchive stores closed 1-minute bars.
type BarArchive interface {
	StoreBatch(ctx context.Context, bars []models.Candle) error
}

// BarArchiver copies closed 1-minute bars from the in-memory price book to
// long-term storage so candle history survives restarts.
type BarArchiver struct {
	source  domrepo.CandleStore
	archive BarArchive
	markets []string
	metrics domrepo.Metrics
	log     *applogger.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

func NewBarArchiver(source domrepo.CandleStore, archive BarArchive, markets []string, metrics domrepo.Metrics, log *applogger.Logger) *BarArchiver {
	if log == nil {
		log = applogger.NewNop()
	}
	return &BarArchiver{
		source:  source,
		archive: archive,
		markets: markets,
		metrics: metrics,
		log:     log,
		last:    make(map[string]time.Time),
	}
}

// Flush archives every bar closed by now that was not archived before.
func (a *BarArchiver) Flush(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		batch []models.Candle
		marks = make(map[string]time.Time)
	)
	for _, m := range a.markets {
		bars, err := a.source.GetLatestNCandles(ctx, m, 10, models.TF1m)
		if err != nil {
			continue
		}
		for _, b := range bars {
			if b.Bucket.Add(time.Minute).After(now) || !b.Bucket.After(a.last[m]) {
				continue
			}
			batch = append(batch, b)
			marks[m] = b.Bucket
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := a.archive.StoreBatch(ctx, batch); err != nil {
		a.metrics.RecordError("bar_archive")
		return 0, fmt.Errorf("archive bars: %w", err)
	}
	for m, t := range marks {
		a.last[m] = t
	}
	a.metrics.RecordLatency("bar_archive", time.Since(start).Seconds())
	return len(batch), nil
}

// Run flushes every interval until ctx ends.
func (a *BarArchiver) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n, err := a.Flush(ctx, now.UTC()); err != nil {
				a.log.Warn("bar archive flush", applogger.Error(err))
			} else if n > 0 {
				a.log.Debug("bars archived", applogger.Int("count", n))
			}
		}
	}
}
