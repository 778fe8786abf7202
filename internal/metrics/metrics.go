// Package metrics exposes Prometheus collectors for settlement and barcode
// resolution outcomes. A nil *Metrics records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	settlements *prometheus.CounterVec
	duration    prometheus.Histogram
	scans       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers the collectors against registerer, or the default registerer
// when it is nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(registerer)
}

func build(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_total",
			Help: "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Wall time of a settlement from validation to commit.",
			Buckets: prometheus.DefBuckets,
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barcode_scans_total",
			Help: "Barcode resolutions by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.settlements, m.duration, m.scans)
	return m
}

// ObserveSettlement records one settlement attempt that started at start.
func (m *Metrics) ObserveSettlement(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}
