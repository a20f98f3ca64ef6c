//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"AutoTrader/pkg/config"
	"AutoTrader/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideRegisterer,
	ProvideGatherer,
	ProvideMetrics,
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideKVStore,
	ProvideJournal,
	ProvideClickHouseClient,
	ProvideNotifier,
)

var storeSet = wire.NewSet(
	ProvideSignalStore,
	ProvideEmergencyStore,
	ProvidePositionStore,
	ProvideOrderStore,
	ProvideLocker,
	ProvideCHCandleStore,
	ProvideAuditSink,
)

var marketSet = wire.NewSet(
	ProvidePriceBook,
	ProvideBridge,
	ProvideCandleStore,
	ProvidePriceSource,
	ProvideBroker,
	ProvideExchange,
	ProvideAccount,
	ProvidePipeline,
	ProvideTickCollector,
	ProvideKafkaConsumer,
	ProvideBarArchiver,
)

var tradingSet = wire.NewSet(
	ProvideAuditor,
	ProvideRiskManager,
	ProvideFilter,
	ProvideGuard,
	ProvideEngines,
	ProvideFuser,
	ProvideGate,
	ProvideCoordinator,
	ProvideSnapshotLoader,
	ProvideCycles,
	ProvideScheduler,
	ProvideReconciler,
)

var apiSet = wire.NewSet(
	ProvideOverview,
	ProvideCandles,
	ProvideHealthChecks,
	ProvideStatusHandler,
	ProvideHTTPServer,
)

// InitializeApp wires every dependency of the trading process.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(infraSet, storeSet, marketSet, tradingSet, apiSet, ProvideApp)
	return nil, nil, nil
}
