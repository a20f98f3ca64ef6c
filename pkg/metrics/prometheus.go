package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"AutoTrader/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions      *prometheus.CounterVec
	filterVerdicts *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	emergencies    *prometheus.CounterVec
	forcedExits    *prometheus.CounterVec
	orders         *prometheus.CounterVec
	openPositions  prometheus.Gauge
	lastPrice      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New registers the trading metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_decisions_total",
			Help: "Fused decisions by market and action",
		}, []string{"market", "action"}),
		filterVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_filter_verdicts_total",
			Help: "Signal filter verdicts by rule",
		}, []string{"kind", "allowed"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_verifications_total",
			Help: "Verification gate outcomes",
		}, []string{"approved"}),
		emergencies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_emergency_triggers_total",
			Help: "Emergency guard triggers",
		}, []string{"market", "action"}),
		forcedExits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_forced_exits_total",
			Help: "Positions closed by the risk manager",
		}, []string{"market", "reason"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_total",
			Help: "Orders by side, origin and final status",
		}, []string{"side", "origin", "status"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_open_positions",
			Help: "Currently open positions",
		}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_last_price",
			Help: "Last observed price per market",
		}, []string{"market"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordDecision(market string, action models.Action) {
	r.decisions.WithLabelValues(market, string(action)).Inc()
}

func (r *Recorder) RecordFilterVerdict(kind models.VerdictKind, allowed bool) {
	r.filterVerdicts.WithLabelValues(string(kind), boolLabel(allowed)).Inc()
}

func (r *Recorder) RecordVerification(approved bool) {
	r.verifications.WithLabelValues(boolLabel(approved)).Inc()
}

func (r *Recorder) RecordEmergency(market string, action models.Action) {
	r.emergencies.WithLabelValues(market, string(action)).Inc()
}

func (r *Recorder) RecordForcedExit(market string, reason models.ExitReason) {
	r.forcedExits.WithLabelValues(market, string(reason)).Inc()
}

func (r *Recorder) RecordOrder(side models.Action, origin models.Origin, status models.OrderStatus) {
	r.orders.WithLabelValues(string(side), string(origin), string(status)).Inc()
}

func (r *Recorder) RecordOpenPositions(n int) { r.openPositions.Set(float64(n)) }

func (r *Recorder) RecordLastPrice(market string, price float64) {
	r.lastPrice.WithLabelValues(market).Set(price)
}

func (r *Recorder) RecordError(kind string) { r.errorsTotal.WithLabelValues(kind).Inc() }

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
