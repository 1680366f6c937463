package pricing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for price resolution. A nil *Metrics
// records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    prometheus.Histogram
	integrity   prometheus.Counter
	malformed   *prometheus.CounterVec
	cache       *prometheus.CounterVec
	version     prometheus.Gauge
}

// NewMetrics registers the pricing collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_pricing_resolutions_total",
			Help: "Successful price resolutions partitioned by winning construct kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_pricing_resolution_failures_total",
			Help: "Failed price resolutions partitioned by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_pricing_resolution_duration_seconds",
			Help:    "Duration of price resolutions in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		integrity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_pricing_integrity_warnings_total",
			Help: "Customer/product pairs found with more than one eligible contract.",
		}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_pricing_malformed_records_total",
			Help: "Pricing records skipped during matching because they are malformed.",
		}, []string{"record"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_pricing_cache_requests_total",
			Help: "Pricing lookup cache requests partitioned by result.",
		}, []string{"result"}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_pricing_cache_version",
			Help: "Last pricing cache version announced to this process.",
		}),
	}
	registerer.MustRegister(m.resolutions, m.failures, m.duration, m.integrity, m.malformed, m.cache, m.version)
	return m
}

func (m *Metrics) observeResolution(kind ConstructKind, started time.Time) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(kind)).Inc()
	m.duration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) integrityWarning() {
	if m == nil {
		return
	}
	m.integrity.Inc()
}

func (m *Metrics) malformedRecords(record string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.malformed.WithLabelValues(record).Add(float64(count))
}

func (m *Metrics) cacheResult(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheVersion(ver int64) {
	if m == nil {
		return
	}
	m.version.Set(float64(ver))
}
