package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "AutoTrader/internal/middleware"
	"AutoTrader/internal/usecase"
	"AutoTrader/pkg/config"
	xhttp "AutoTrader/pkg/http"
	pkgkafka "AutoTrader/pkg/kafka"
	applogger "AutoTrader/pkg/logger"
)

// App encapsulates the trading process lifecycle. Optional parts are nil
// when their feature is disabled.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	scheduler  *usecase.Scheduler
	reconciler *usecase.Reconciler
	pipe       *mid.RealtimePipeline
	collector  *usecase.TickCollector
	consumer   *pkgkafka.Consumer
	archiver   *usecase.BarArchiver
	httpServer *xhttp.Server

	cancel context.CancelFunc
}

func New(
	cfg *config.Config,
	log *applogger.Logger,
	scheduler *usecase.Scheduler,
	reconciler *usecase.Reconciler,
	pipe *mid.RealtimePipeline,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	archiver *usecase.BarArchiver,
	httpServer *xhttp.Server,
) *App {
	if log == nil {
		log = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		scheduler:  scheduler,
		reconciler: reconciler,
		pipe:       pipe,
		collector:  collector,
		consumer:   consumer,
		archiver:   archiver,
		httpServer: httpServer,
	}
}

// Reconcile settles pending orders and aligns positions with holdings.
func (a *App) Reconcile(ctx context.Context) (*usecase.ReconcileReport, error) {
	return a.reconciler.Run(ctx, time.Now().UTC())
}

// Start brings every component up in dependency order: market data first,
// then reconciliation, then the trading cadences, then the ops API.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	switch {
	case a.collector != nil:
		if err := a.collector.Start(ctx); err != nil {
			return fmt.Errorf("start tick collector: %w", err)
		}
		a.log.Info("tick collector started", applogger.Strings("markets", a.cfg.Markets))
	case a.consumer != nil:
		a.pipe.Start(ctx)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka tick consumer started", applogger.String("topic", a.cfg.Kafka.TicksTopic))
	}

	if a.archiver != nil {
		go a.archiver.Run(ctx, time.Minute)
	}

	if a.cfg.Reconcile.OnStartup {
		rep, err := a.Reconcile(ctx)
		if err != nil {
			// trading still starts; positions already in the store stay protected
			a.log.Error("startup reconcile failed", applogger.Error(err))
		} else {
			a.log.Info("startup reconcile done",
				applogger.Strings("adopted", rep.Adopted),
				applogger.Strings("dropped", rep.Dropped),
				applogger.Strings("settled", rep.Settled),
				applogger.Strings("failures", rep.Failures))
		}
	}

	a.scheduler.Start(ctx)

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// Run starts the app and blocks until ctx ends or a termination signal
// arrives.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Shutdown(shutdownCtx)
	return nil
}

// Shutdown stops intake before the cadences.
func (a *App) Shutdown(ctx context.Context) {
	a.log.Info("shutting down")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Warn("http shutdown", applogger.Error(err))
		}
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(); err != nil {
			a.log.Warn("tick collector stop", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop", applogger.Error(err))
		}
	}
	if a.pipe != nil {
		a.pipe.Stop()
	}

	a.scheduler.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info("shutdown complete")
}
