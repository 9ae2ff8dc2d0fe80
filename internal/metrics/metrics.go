// Package metrics holds the Prometheus counters for generation, batch runs
// and photo storage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	GenerationRequests *prometheus.CounterVec
	BatchItems         *prometheus.CounterVec
	PhotoOperations    *prometheus.CounterVec
	PhotosRemoved      prometheus.Counter
}

// New registers all counters on a fresh registry together with the Go and
// process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GenerationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbingo_generation_requests_total",
			Help: "Generation endpoint calls partitioned by kind (image, description) and outcome.",
		}, []string{"kind", "outcome"}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbingo_batch_items_total",
			Help: "Items processed by admin batch flows partitioned by flow and outcome.",
		}, []string{"flow", "outcome"}),
		PhotoOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbingo_photo_operations_total",
			Help: "Photo store operations partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),
		PhotosRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "travelbingo_photos_removed_total",
			Help: "Photos removed by city resets.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.GenerationRequests,
		m.BatchItems,
		m.PhotoOperations,
		m.PhotosRemoved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveGeneration(kind string, err error) {
	if m == nil {
		return
	}
	m.GenerationRequests.WithLabelValues(kind, outcome(err == nil)).Inc()
}

func (m *Metrics) ObserveBatchItem(flow string, ok bool) {
	if m == nil {
		return
	}
	m.BatchItems.WithLabelValues(flow, outcome(ok)).Inc()
}

func (m *Metrics) ObservePhoto(op string, ok bool) {
	if m == nil {
		return
	}
	m.PhotoOperations.WithLabelValues(op, outcome(ok)).Inc()
}

// ObservePhotosRemoved counts photos purged in bulk. Per-record failures are
// logged by the store and only show up as a smaller count.
func (m *Metrics) ObservePhotosRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PhotosRemoved.Add(float64(n))
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
