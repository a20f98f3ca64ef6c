package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/handler/api"
	mid "AutoTrader/internal/middleware"
	internalrepo "AutoTrader/internal/repository"
	icache "AutoTrader/internal/service/cache"
	"AutoTrader/internal/service/exchange"
	"AutoTrader/internal/service/marketfeed"
	"AutoTrader/internal/service/notify"
	"AutoTrader/internal/service/ratelimit"
	"AutoTrader/internal/services/emergency"
	"AutoTrader/internal/services/engines"
	"AutoTrader/internal/services/filter"
	"AutoTrader/internal/services/fusion"
	"AutoTrader/internal/services/risk"
	"AutoTrader/internal/services/verify"
	"AutoTrader/internal/usecase"
	pkgch "AutoTrader/pkg/clickhouse"
	"AutoTrader/pkg/config"
	xhttp "AutoTrader/pkg/http"
	pkgkafka "AutoTrader/pkg/kafka"
	"AutoTrader/pkg/kv"
	applogger "AutoTrader/pkg/logger"
	"AutoTrader/pkg/metrics"
	"AutoTrader/pkg/server"
)

// Broker is an exchange that can also report holdings.
type Broker interface {
	service.Exchange
	service.AccountProvider
}

// ProvideRegisterer returns the process-wide Prometheus registry.
func ProvideRegisterer() prometheus.Registerer { return prometheus.DefaultRegisterer }

func ProvideGatherer() prometheus.Gatherer { return prometheus.DefaultGatherer }

func ProvideMetrics(reg prometheus.Registerer) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer returns nil when nothing publishes to Kafka.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer) (*pkgkafka.Producer, func(), error) {
	if !cfg.Audit.Kafka && !cfg.Log.Collector.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(reg,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the app logger. Warn and error lines are also shipped
// to Kafka when the collector is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
			IncludeWarn:    cfg.Log.Collector.IncludeWarn,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideKVStore picks the shared state backend.
func ProvideKVStore(cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		r := cfg.Store.Redis
		store, err := kv.NewRedisStore(
			kv.WithRedisHost(r.Host),
			kv.WithRedisPort(r.Port),
			kv.WithRedisPassword(r.Password),
			kv.WithRedisDB(r.DB),
			kv.WithRedisPool(r.PoolSize, r.PoolSize/2, 5*time.Second),
			kv.WithRedisPrefix(r.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store := kv.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}
}

func ProvideSignalStore(store kv.Store) domrepo.SignalStore {
	return internalrepo.NewKVSignalStore(store)
}

func ProvideEmergencyStore(store kv.Store) domrepo.EmergencyStore {
	return internalrepo.NewKVEmergencyStore(store)
}

func ProvidePositionStore(store kv.Store) domrepo.PositionStore {
	return internalrepo.NewKVPositionStore(store)
}

func ProvideOrderStore(cfg *config.Config, store kv.Store) domrepo.OrderStore {
	return internalrepo.NewKVOrderStore(store, cfg.Trading.OrderTTL)
}

// ProvideLocker returns a cross-process lock when state is shared through
// Redis and an in-process one otherwise.
func ProvideLocker(cfg *config.Config, store kv.Store) usecase.Locker {
	if cfg.Store.Backend == "redis" {
		return usecase.NewKVLocker(store, cfg.Trading.LockTTL)
	}
	return usecase.NewLocalLocker()
}

// ProvideJournal returns nil when the journal is disabled.
func ProvideJournal(cfg *config.Config) (domrepo.Journal, func(), error) {
	if !cfg.Journal.Enabled {
		return nil, func() {}, nil
	}
	j, err := internalrepo.NewSQLiteJournal(cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	return j, func() { _ = j.Close() }, nil
}

// ProvideClickHouseClient returns nil unless candles or audit go to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	ch := cfg.ClickHouse
	if cfg.MarketData.Candles != "clickhouse" && !cfg.Audit.ClickHouse {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithAsyncInsert(ch.AsyncInsert),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if ch.InitSchema {
		var stmts []string
		if cfg.MarketData.Candles == "clickhouse" {
			stmts = append(stmts, internalrepo.CandleSchema(ch.CandleTable)...)
		}
		if cfg.Audit.ClickHouse {
			stmts = append(stmts, internalrepo.AuditSchema(ch.AuditTable)...)
		}
		if err := client.InitSchema(ctx, stmts); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCHCandleStore returns nil unless candles are read from ClickHouse.
func ProvideCHCandleStore(cfg *config.Config, client *pkgch.Client, l *applogger.Logger) *internalrepo.CHCandleStore {
	if client == nil || cfg.MarketData.Candles != "clickhouse" {
		return nil
	}
	return internalrepo.NewCHCandleStore(client.DB(), cfg.ClickHouse.CandleTable, l)
}

func ProvidePriceBook() *marketfeed.PriceBook {
	return marketfeed.NewPriceBook(0)
}

// ProvideBridge is the exchange bridge. It also serves public candles and
// prices in paper mode.
func ProvideBridge(cfg *config.Config) *exchange.Bridge {
	b := cfg.Exchange.Bridge
	return exchange.NewBridge(b.URL, b.APIKey, b.Timeout)
}

// ProvideCandleStore prefers bars built from live ticks and falls back to
// the archive or the bridge.
func ProvideCandleStore(book *marketfeed.PriceBook, bridge *exchange.Bridge, archive *internalrepo.CHCandleStore) domrepo.CandleStore {
	if archive != nil {
		return marketfeed.NewFallback(book, archive)
	}
	return marketfeed.NewFallback(book, bridge)
}

func ProvidePriceSource(cfg *config.Config, book *marketfeed.PriceBook, bridge *exchange.Bridge) domrepo.PriceSource {
	return marketfeed.NewFallbackPrices(book, bridge, cfg.MarketData.MaxStaleness)
}

func ProvideBroker(cfg *config.Config, prices domrepo.PriceSource, bridge *exchange.Bridge) Broker {
	if cfg.Exchange.Mode == "bridge" {
		return bridge
	}
	p := cfg.Exchange.Paper
	return exchange.NewPaper(prices, p.FeeRate, p.InitialQuote)
}

func ProvideExchange(b Broker) service.Exchange { return b }

func ProvideAccount(b Broker) service.AccountProvider { return b }

// ProvideAuditSink always logs; ClickHouse and Kafka are added when enabled.
func ProvideAuditSink(cfg *config.Config, l *applogger.Logger, client *pkgch.Client, producer *pkgkafka.Producer) domrepo.AuditSink {
	sinks := internalrepo.MultiAuditSink{internalrepo.NewLogAuditSink(l)}
	if cfg.Audit.ClickHouse && client != nil {
		sinks = append(sinks, internalrepo.NewCHAuditSink(client.DB(), cfg.ClickHouse.AuditTable))
	}
	if cfg.Audit.Kafka && producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaAuditSink(producer, cfg.Kafka.AuditTopic))
	}
	return sinks
}

// ProvideNotifier returns nil when Telegram is disabled.
func ProvideNotifier(cfg *config.Config) (domrepo.Notifier, error) {
	t := cfg.Telegram
	if !t.Enabled {
		return nil, nil
	}
	tg, err := notify.NewTelegram(t.BotToken, t.ChatID, t.MaxRetries, t.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}

func ProvideAuditor(sink domrepo.AuditSink, notifier domrepo.Notifier, l *applogger.Logger) *usecase.Auditor {
	return usecase.NewAuditor(sink, notifier, l)
}

func ProvideRiskManager(cfg *config.Config, positions domrepo.PositionStore, l *applogger.Logger) *risk.Manager {
	r := cfg.Risk
	return risk.New(positions, risk.Config{
		HardStop:           r.HardStop,
		ImmediateCut:       r.ImmediateCut,
		TightenFrom:        r.TightenFrom,
		TightenGap:         r.TightenGap,
		TrailingActivation: r.TrailingActivation,
		TrailingGap:        r.TrailingGap,
		BreakevenBuffer:    r.BreakevenBuffer,
		InitialStopLoss:    r.InitialStopLoss,
		TakeProfit:         r.TakeProfit,
		MaxHold:            r.MaxHold,
	}, l)
}

func ProvideFilter(cfg *config.Config, signals domrepo.SignalStore, l *applogger.Logger) *filter.Filter {
	return filter.New(signals, filter.Config{
		HighConfidence: cfg.Filter.HighConfidence,
		TTL:            cfg.Filter.TTL,
	}, l)
}

func ProvideGuard(cfg *config.Config, store domrepo.EmergencyStore, l *applogger.Logger) *emergency.Guard {
	e := cfg.Emergency
	return emergency.NewGuard(store, emergency.Thresholds{
		Crash1m:          e.Crash1m,
		Crash3m:          e.Crash3m,
		Crash5m:          e.Crash5m,
		VolatilitySpike:  e.VolatilitySpike,
		Surge1m:          e.Surge1m,
		Surge3m:          e.Surge3m,
		VolumeSpike:      e.VolumeSpike,
		MinBuyConfidence: e.MinBuyConfidence,
		Cooldown:         e.Cooldown,
	}, l)
}

// ProvideEngines builds the enabled engines in fusion order.
func ProvideEngines(cfg *config.Config, l *applogger.Logger) ([]service.Engine, error) {
	var out []service.Engine
	e := cfg.Engines
	if e.Technical.Enabled {
		out = append(out, engines.NewTechnical(e.Technical.Weight))
	}
	if e.MultiTimeframe.Enabled {
		out = append(out, engines.NewMultiTimeframe(e.MultiTimeframe.Weight))
	}
	if e.Model.Enabled {
		out = append(out, engines.NewModel(engines.NewHTTPModelClient(e.Model.URL, e.Model.Timeout), e.Model.Weight, l))
	}
	if len(out) == 0 {
		return nil, errors.New("at least one engine must be enabled")
	}
	return out, nil
}

func ProvideFuser(cfg *config.Config, engs []service.Engine, l *applogger.Logger) *fusion.Fuser {
	f := cfg.Fusion
	return fusion.New(engs, fusion.Config{
		AgreementBoost:      f.AgreementBoost,
		MaxConfidence:       f.MaxConfidence,
		DisagreementPenalty: f.DisagreementPenalty,
		TieEpsilon:          f.TieEpsilon,
	}, l)
}

// ProvideGate builds one chat verifier per configured endpoint. The
// verifiers share a limiter keyed by verifier name.
func ProvideGate(cfg *config.Config, l *applogger.Logger) *verify.Gate {
	v := cfg.Verification
	limiter := ratelimit.New()
	verifiers := make([]service.Verifier, 0, len(v.Verifiers))
	for _, vc := range v.Verifiers {
		verifiers = append(verifiers, verify.NewChatVerifier(verify.ChatConfig{
			Name:          vc.Name,
			Style:         vc.Style,
			URL:           vc.URL,
			Model:         vc.Model,
			APIKey:        vc.APIKey,
			RatePerMinute: vc.RatePerMinute,
			Timeout:       v.Timeout,
		}, limiter))
	}
	return verify.NewGate(verifiers, verify.Config{
		Enabled:  v.Enabled,
		Required: v.Required,
		Timeout:  v.Timeout,
		Retries:  v.Retries,
	}, l)
}

func ProvideCoordinator(
	cfg *config.Config,
	locker usecase.Locker,
	positions domrepo.PositionStore,
	orders domrepo.OrderStore,
	journal domrepo.Journal,
	ex service.Exchange,
	f *filter.Filter,
	riskMgr *risk.Manager,
	audit *usecase.Auditor,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Coordinator {
	t := cfg.Trading
	return usecase.NewCoordinator(usecase.CoordinatorConfig{
		TradeAmount:      t.TradeAmount,
		MaxOpenPositions: t.MaxOpenPositions,
		LockWait:         t.LockWait,
		OrderTimeout:     t.OrderTimeout,
		OrderRetries:     t.OrderRetries,
	}, locker, positions, orders, journal, ex, f, riskMgr, audit, m, l)
}

func ProvideSnapshotLoader(cfg *config.Config, candles domrepo.CandleStore, prices domrepo.PriceSource) *usecase.SnapshotLoader {
	return usecase.NewSnapshotLoader(candles, prices, nil, cfg.MarketData.MaxStaleness)
}

func ProvideCycles(
	cfg *config.Config,
	coord *usecase.Coordinator,
	loader *usecase.SnapshotLoader,
	fuser *fusion.Fuser,
	f *filter.Filter,
	gate *verify.Gate,
	guard *emergency.Guard,
	positions domrepo.PositionStore,
	audit *usecase.Auditor,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Cycles {
	return usecase.NewCycles(usecase.CyclesConfig{
		EmergencyEnabled: cfg.Emergency.Enabled,
		Lookback:         cfg.Emergency.Lookback,
	}, coord, loader, fuser, f, gate, guard, positions, audit, m, l)
}

// ProvideScheduler registers the three cadences.
func ProvideScheduler(cfg *config.Config, cycles *usecase.Cycles, m domrepo.Metrics, l *applogger.Logger) *usecase.Scheduler {
	jobs := []usecase.Job{
		{Cadence: models.CadenceRegular, Every: cfg.Schedule.Regular, Run: cycles.RunRegular},
		{Cadence: models.CadenceTick, Every: cfg.Schedule.Tick, Run: cycles.RunTick},
	}
	if cfg.Emergency.Enabled {
		jobs = append(jobs, usecase.Job{Cadence: models.CadenceEmergency, Every: cfg.Schedule.Emergency, Run: cycles.RunEmergency})
	}
	return usecase.NewScheduler(cfg.Markets, jobs, m, l)
}

func ProvideReconciler(cfg *config.Config, coord *usecase.Coordinator, account service.AccountProvider, prices domrepo.PriceSource, l *applogger.Logger) *usecase.Reconciler {
	return usecase.NewReconciler(coord, account, prices, cfg.Markets, cfg.Reconcile.MinValue, l)
}

// ProvidePipeline feeds validated, throttled ticks into the price book.
func ProvidePipeline(cfg *config.Config, book *marketfeed.PriceBook, m domrepo.Metrics) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(book, m,
		mid.WithMaxRPS(20),
		mid.WithBufferSize(2000),
		mid.WithMarkets(cfg.Markets),
	)
}

// ProvideTickCollector returns nil unless ticks come from the websocket.
func ProvideTickCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics, l *applogger.Logger) *usecase.TickCollector {
	if cfg.MarketData.Ticks != "websocket" {
		return nil
	}
	ws := cfg.WebSocket
	stream := marketfeed.NewStream(ws.URL, ws.ReconnectDelay, ws.PingInterval, l)
	return usecase.NewTickCollector(stream, pipe, cfg.Markets, m, l)
}

// ProvideKafkaConsumer returns nil unless ticks come from Kafka.
func ProvideKafkaConsumer(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics, reg prometheus.Registerer, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.MarketData.Ticks != "kafka" {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l, reg,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaTickHandler(cfg.Kafka.TicksTopic, pipe, m))
	return consumer, nil
}

// ProvideBarArchiver returns nil unless live ticks are archived to ClickHouse.
func ProvideBarArchiver(cfg *config.Config, book *marketfeed.PriceBook, archive *internalrepo.CHCandleStore, m domrepo.Metrics, l *applogger.Logger) *usecase.BarArchiver {
	if archive == nil || cfg.MarketData.Ticks == "none" {
		return nil
	}
	return usecase.NewBarArchiver(book, archive, cfg.Markets, m, l)
}

func ProvideOverview(cfg *config.Config, positions domrepo.PositionStore, signals domrepo.SignalStore, em domrepo.EmergencyStore, prices domrepo.PriceSource) *usecase.OverviewUseCase {
	return usecase.NewOverviewUseCase(positions, signals, em, prices, cfg.Markets)
}

func ProvideCandles(candles domrepo.CandleStore) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(candles)
}

// ProvideHealthChecks lists the dependencies probed by /health.
func ProvideHealthChecks(cfg *config.Config, store kv.Store, client *pkgch.Client, account service.AccountProvider) []api.HealthCheck {
	checks := []api.HealthCheck{{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.Get(ctx, kv.Key("health", "probe"))
			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}
			return err
		},
	}}
	if client != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: client.Health})
	}
	if cfg.Exchange.Mode == "bridge" {
		checks = append(checks, api.HealthCheck{
			Name: "exchange",
			Check: func(ctx context.Context) error {
				_, err := account.Holdings(ctx)
				return err
			},
		})
	}
	return checks
}

func ProvideStatusHandler(
	l *applogger.Logger,
	overview *usecase.OverviewUseCase,
	candles *usecase.CandlesUseCase,
	positions domrepo.PositionStore,
	journal domrepo.Journal,
	checks []api.HealthCheck,
	store kv.Store,
) *api.StatusHandler {
	h := api.NewStatusHandler(l, overview, candles, positions, journal, checks)
	h.SetCache(icache.NewKVCache(store, "httpcache"), 5*time.Second)
	return h
}

// ProvideHTTPServer returns nil when the ops API is disabled.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.StatusHandler, reg prometheus.Registerer, g prometheus.Gatherer) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, g, cfg.Metrics.Path))
	}
	return xhttp.NewServer(l, []xhttp.Handler{h}, opts...)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.Scheduler,
	reconciler *usecase.Reconciler,
	pipe *mid.RealtimePipeline,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	archiver *usecase.BarArchiver,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, l, scheduler, reconciler, pipe, collector, consumer, archiver, httpServer)
}
