// Package metrics holds the prometheus collectors for the filing pipeline.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and one-shot CLI runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "proxyvote"

type Metrics struct {
	filings     *prometheus.CounterVec
	sections    *prometheus.CounterVec
	cache       *prometheus.CounterVec
	duration    prometheus.Histogram
	queueDepth  prometheus.Gauge
	classifyErr prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filings_processed_total",
			Help:      "Filings processed, by outcome.",
		}, []string{"outcome"}),
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sections_total",
			Help:      "Sections emitted, by fund resolution state.",
		}, []string{"state"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_cache_lookups_total",
			Help:      "Render cache lookups, by tier and result.",
		}, []string{"tier", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "filing_duration_seconds",
			Help:      "Time spent rendering, segmenting and resolving one filing.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Jobs waiting in the pipeline queue.",
		}),
		classifyErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_errors_total",
			Help:      "Section classification calls that failed after retries.",
		}),
	}
	reg.MustRegister(m.filings, m.sections, m.cache, m.duration, m.queueDepth, m.classifyErr)
	return m
}

func (m *Metrics) FilingProcessed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.filings.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) SectionEmitted(state string) {
	if m == nil {
		return
	}
	m.sections.WithLabelValues(state).Inc()
}

// CacheLookup records a render cache lookup; tier is "memory" or "disk".
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ClassifyFailed() {
	if m == nil {
		return
	}
	m.classifyErr.Inc()
}
