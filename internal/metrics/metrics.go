// Package metrics holds the Prometheus collectors of the ingestion stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swapcandles"

type Metrics struct {
	TradesApplied   *prometheus.CounterVec
	LateTrades      *prometheus.CounterVec
	MalformedTrades prometheus.Counter
	CandlesFlushed  *prometheus.CounterVec
	FlushFailures   *prometheus.CounterVec
	EventsPolled    *prometheus.CounterVec
	PollFailures    *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	RetryAttempts   *prometheus.CounterVec
	OpenCandles     prometheus.Gauge
	ServiceState    prometheus.Gauge
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TradesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "trades_total",
			Help:      "Trades handed to the aggregator by outcome",
		}, []string{"outcome"}),
		LateTrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "late_trades_total",
			Help:      "Trades skipped for a timeframe whose bucket was already flushed",
		}, []string{"timeframe"}),
		MalformedTrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "malformed_trades_total",
			Help:      "Trades rejected for malformed numeric input",
		}),
		CandlesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "candles_flushed_total",
			Help:      "Closed candles persisted by timeframe",
		}, []string{"timeframe"}),
		FlushFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "flush_failures_total",
			Help:      "Closed candles dropped after persistence retries were exhausted",
		}, []string{"timeframe"}),
		EventsPolled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "events_polled_total",
			Help:      "Trade events returned by the event source",
		}, []string{"pair"}),
		PollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "poll_failures_total",
			Help:      "Polls that failed after retries were exhausted",
		}, []string{"pair"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a poll including retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"pair"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retried attempts by operation",
		}, []string{"operation"}),
		OpenCandles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "open_candles",
			Help:      "Candles currently held in the working set",
		}),
		ServiceState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "state",
			Help:      "Lifecycle state: 0 stopped, 1 starting, 2 running, 3 stopping",
		}),
	}
}
