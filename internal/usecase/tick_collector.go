package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
	mid "AutoTrader/internal/middleware"
	applogger "AutoTrader/pkg/logger"
)

// TickCollector pumps ticks from a live market stream into the pipeline and
// reconnects when the stream drops.
type TickCollector struct {
	stream  service.MarketStream
	pipe    *mid.RealtimePipeline
	markets []string
	metrics domrepo.Metrics
	log     *applogger.Logger
	done    chan struct{}
}

func NewTickCollector(stream service.MarketStream, pipe *mid.RealtimePipeline, markets []string, metrics domrepo.Metrics, log *applogger.Logger) *TickCollector {
	if log == nil {
		log = applogger.NewNop()
	}
	return &TickCollector{
		stream:  stream,
		pipe:    pipe,
		markets: markets,
		metrics: metrics,
		log:     log.With(applogger.String("component", "tick_collector")),
		done:    make(chan struct{}),
	}
}

func (c *TickCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes and consumes in the background until ctx ends.
func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect market stream: %w", err)
	}
	if err := c.stream.Subscribe(ctx, c.markets); err != nil {
		return fmt.Errorf("subscribe market stream: %w", err)
	}
	c.pipe.Start(ctx)
	go c.run(ctx)
	return nil
}

// Done is closed once the consume loop exits.
func (c *TickCollector) Done() <-chan struct{} { return c.done }

func (c *TickCollector) run(ctx context.Context) {
	defer close(c.done)
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("market stream dropped, reconnecting", applogger.Error(err))
		for {
			rerr := c.stream.Reconnect(ctx)
			if rerr == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordError("stream_reconnect")
			c.log.Warn("market stream reconnect failed", applogger.Error(rerr))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		c.log.Info("market stream reconnected", applogger.Strings("markets", c.markets))
	}
}

// consume drains one Read session and returns the error that ended it.
func (c *TickCollector) consume(ctx context.Context) error {
	ticks, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case t, ok := <-ticks:
			if !ok {
				return fmt.Errorf("market stream closed")
			}
			// invalid or throttled ticks are counted by the pipeline
			_ = c.pipe.Process(ctx, &t)
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *TickCollector) Shutdown() error {
	c.pipe.Stop()
	return c.stream.Close()
}
