package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
	ResultStale = "stale"
)

// Metrics holds the store collectors. A nil *Metrics is valid and records
// nothing, so stores can be built without instrumentation.
type Metrics struct {
	registry     *prometheus.Registry
	fetches      *prometheus.CounterVec
	giveUps      *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	releaseOps   *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chartdock",
			Name:      "fetches_total",
			Help:      "Remote fetches issued by tab stores.",
		}, []string{"store", "kind", "result"}),
		giveUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chartdock",
			Name:      "values_give_ups_total",
			Help:      "Values loads abandoned after every attempt returned nothing.",
		}, []string{"store"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chartdock",
			Name:      "load_data_duration_seconds",
			Help:      "Time spent in LoadData per tab activation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
		releaseOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chartdock",
			Name:      "release_operations_total",
			Help:      "Install and upgrade operations by outcome.",
		}, []string{"operation", "result"}),
	}
	m.registry.MustRegister(
		m.fetches, m.giveUps, m.loadDuration, m.releaseOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Fetch(store, kind, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(store, kind, result).Inc()
}

func (m *Metrics) GiveUp(store string) {
	if m == nil {
		return
	}
	m.giveUps.WithLabelValues(store).Inc()
}

func (m *Metrics) LoadDuration(store string, d time.Duration) {
	if m == nil {
		return
	}
	m.loadDuration.WithLabelValues(store).Observe(d.Seconds())
}

func (m *Metrics) ReleaseOp(operation string, err error) {
	if m == nil {
		return
	}
	m.releaseOps.WithLabelValues(operation, ResultOf(err)).Inc()
}

// ResultOf maps an error to a fetch result label.
func ResultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
