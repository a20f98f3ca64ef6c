package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	RemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autotrader",
			Subsystem: "remote",
			Name:      "latency_seconds",
			Help:      "Latency of calls to the model, verifiers and exchange bridge",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "remote",
			Name:      "errors_total",
			Help:      "Failed remote calls by endpoint",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(RemoteLatency, RemoteErrors)
	})
}
