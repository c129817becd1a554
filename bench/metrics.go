package bench

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luca-patrignani/ringbench/exchange"
)

const (
	namespace = "ringbench"
	subsystem = "exchange"
)

var (
	exchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "duration_seconds",
		Help:      "end to end duration of an exchange round",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 14),
	}, []string{"strategy"})

	pollIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "poll_iterations_total",
		Help:      "completion checks performed while the receive was in flight",
	}, []string{"strategy"})

	fallbackWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fallback_waits_total",
		Help:      "exchanges that exhausted their poll budget",
	}, []string{"strategy"})

	failedExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "failures_total",
		Help:      "exchanges aborted by an error",
	}, []string{"strategy"})
)

func observeExchange(strategy string, elapsed time.Duration, stats exchange.Stats) {
	exchangeDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	pollIterations.WithLabelValues(strategy).Add(float64(stats.Polls))
	if stats.FellBack {
		fallbackWaits.WithLabelValues(strategy).Inc()
	}
}

func observeFailure(strategy string) {
	failedExchanges.WithLabelValues(strategy).Inc()
}
