package usecase

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// RunFunc handles one market for one cadence.
type RunFunc func(ctx context.Context, market string, now time.Time) error

type run struct{ cancel context.CancelFunc }

type Job struct {
	Cadence models.Cadence
	Every   time.Duration
	Run     RunFunc
}

// Scheduler drives every cadence on its own ticker. Each firing runs all
// markets in parallel; a run still in flight for the same cadence and market
// is cancelled, which only abandons it if it has not taken the market lock.
type Scheduler struct {
	markets []string
	jobs    []Job
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]*run
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewScheduler(markets []string, jobs []Job, metrics domrepo.Metrics, log *applogger.Logger) *Scheduler {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Scheduler{
		markets:  markets,
		jobs:     jobs,
		metrics:  metrics,
		log:      log.With(applogger.String("component", "scheduler")),
		now:      time.Now,
		inflight: make(map[string]*run),
	}
}

// Start launches one loop per job. Stop ends them.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Every <= 0 || job.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
		s.log.Info("cadence started",
			applogger.String("cadence", string(job.Cadence)),
			applogger.Duration("every_ms", job.Every),
			applogger.Strings("markets", s.markets))
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

// fire starts one run per market without waiting for them.
func (s *Scheduler) fire(ctx context.Context, job Job) {
	now := s.now()
	for _, market := range s.markets {
		key := string(job.Cadence) + "|" + market
		rctx, cancel := context.WithCancel(ctx)
		r := &run{cancel: cancel}

		s.mu.Lock()
		if prev, ok := s.inflight[key]; ok {
			prev.cancel()
			s.log.Debug("superseding previous run", applogger.Market(market), applogger.String("cadence", string(job.Cadence)))
		}
		s.inflight[key] = r
		s.mu.Unlock()

		s.wg.Add(1)
		go func(market, key string) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				// The entry may already belong to a newer run.
				if s.inflight[key] == r {
					delete(s.inflight, key)
				}
				s.mu.Unlock()
				r.cancel()
			}()
			s.runOne(rctx, job, market, now)
		}(market, key)
	}
}

// RunOnce runs job for every market and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	now := s.now()
	var wg sync.WaitGroup
	for _, market := range s.markets {
		wg.Add(1)
		go func(market string) {
			defer wg.Done()
			s.runOne(ctx, job, market, now)
		}(market)
	}
	wg.Wait()
}

// runOne isolates a market: an error or panic is logged and never reaches
// the other markets.
func (s *Scheduler) runOne(ctx context.Context, job Job, market string, now time.Time) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("cycle_panic")
			s.log.Error("cycle panicked",
				applogger.Market(market),
				applogger.String("cadence", string(job.Cadence)),
				applogger.Any("panic", r),
				applogger.String("stack", string(debug.Stack())))
		}
	}()

	err := job.Run(ctx, market, now)
	s.metrics.RecordLatency("cycle_"+string(job.Cadence), time.Since(start).Seconds())
	if err == nil || ctx.Err() != nil {
		return
	}
	s.metrics.RecordError("cycle_" + string(job.Cadence))
	if models.IsInvariantFault(err) {
		s.log.Error("cycle rejected by invariant check",
			applogger.Market(market), applogger.String("cadence", string(job.Cadence)), applogger.Error(err))
		return
	}
	s.log.Warn("cycle skipped",
		applogger.Market(market), applogger.String("cadence", string(job.Cadence)), applogger.Error(err))
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
