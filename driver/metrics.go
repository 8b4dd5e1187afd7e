package driver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/promutil"
)

type metrics struct {
	cycles    *prometheus.CounterVec
	launched  *prometheus.CounterVec
	shortfall *prometheus.CounterVec
	fraction  *prometheus.GaugeVec
	duration  prometheus.Histogram
	paused    prometheus.Gauge
}

func newMetrics(f promutil.Factory) *metrics {
	return &metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "cycles_total",
			Help:      "Number of scheduling cycles by outcome",
		}, []string{"target", "outcome"}),
		launched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "threads_launched_total",
			Help:      "Number of threads launched by job kind",
		}, []string{"kind"}),
		shortfall: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "threads_shortfall_total",
			Help:      "Number of threads planned but not launched by job kind",
		}, []string{"kind"}),
		fraction: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "fraction_used",
			Help:      "Extraction fraction of the latest cycle",
		}, []string{"target"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "cycle_duration_seconds",
			Help:      "Bucketed histogram of the time one cycle takes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		paused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "batcher",
			Subsystem: "driver",
			Name:      "paused",
			Help:      "Whether the driver is paused",
		}),
	}
}

func (m *metrics) observe(report *model.CycleReport, elapsed time.Duration) {
	m.cycles.WithLabelValues(report.Target, string(report.Outcome)).Inc()
	for kind, n := range report.Launched {
		m.launched.WithLabelValues(string(kind)).Add(float64(n))
	}
	for kind, n := range report.Shortfall {
		m.shortfall.WithLabelValues(string(kind)).Add(float64(n))
	}
	m.fraction.WithLabelValues(report.Target).Set(report.FractionUsed)
	m.duration.Observe(elapsed.Seconds())
}
