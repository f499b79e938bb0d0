package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbroker",
			Name:      "operations_total",
			Help:      "Total handler operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	conversionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docbroker",
			Name:      "operation_duration_seconds",
			Help:      "Duration of handler operations by backend and operation",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"backend", "operation"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docbroker",
			Name:      "office_retries_total",
			Help:      "Helper invocations retried after a connection-loss diagnostic",
		},
	)

	timeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docbroker",
			Name:      "office_timeouts_total",
			Help:      "Helper invocations killed by the timeout monitor",
		},
	)

	sessionRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbroker",
			Name:      "session_restarts_total",
			Help:      "Office process (re)starts by reason",
		},
		[]string{"reason"},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbroker",
			Name:      "cache_events_total",
			Help:      "Result cache lookups by outcome (hit, miss, error)",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(conversions, conversionLatency, retriesTotal, timeoutsTotal, sessionRestarts, cacheEvents)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveOperation(backend, operation, result string, dur time.Duration) {
	conversions.WithLabelValues(backend, operation, result).Inc()
	conversionLatency.WithLabelValues(backend, operation).Observe(dur.Seconds())
}

func IncRetry()                      { retriesTotal.Inc() }
func IncTimeout()                    { timeoutsTotal.Inc() }
func IncSessionRestart(reason string) { sessionRestarts.WithLabelValues(reason).Inc() }
func IncCache(outcome string)        { cacheEvents.WithLabelValues(outcome).Inc() }
