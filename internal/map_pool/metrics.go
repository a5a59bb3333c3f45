package map_pool

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "workers_live",
		Help:      "Live render workers, including ones still constructing.",
	})

	acquiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "acquires_total",
		Help:      "Renderer acquisitions by outcome.",
	}, []string{"outcome"})

	rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "renders_total",
		Help:      "Tile renders by status.",
	}, []string{"status"})

	renderSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "render_seconds",
		Help:      "Tile render latency in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	evictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "evictions_total",
		Help:      "Worker exits by reason.",
	}, []string{"reason"})

	cleanupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapforge",
		Subsystem: "pool",
		Name:      "cleanups_total",
		Help:      "Engine idle cleanups run on an empty pool.",
	})
)

// Collectors returns every metric the pool exposes.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		workersLive,
		acquiresTotal,
		rendersTotal,
		renderSeconds,
		evictionsTotal,
		cleanupsTotal,
	}
}

// Register adds the pool collectors to the registry. Metrics are shared
// package state, so collectors an earlier registration already added are
// fine and skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeRender(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	rendersTotal.WithLabelValues(status).Inc()
	renderSeconds.Observe(elapsed.Seconds())
}
