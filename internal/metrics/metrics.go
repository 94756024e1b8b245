// Package metrics counts bus events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
)

const namespace = "querycore"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        prometheus.Histogram
	operations          *prometheus.CounterVec
	operationDuration   prometheus.Histogram
	documentsParsed     *prometheus.CounterVec
	validationFailures  prometheus.Counter
	collectionDiags     *prometheus.CounterVec
	segmentPoolOverflow prometheus.Counter
	mergeLeftovers      prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by status code.",
		}, []string{"status"}),
		httpDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_operations_total",
			Help:      "Executed GraphQL operations, by operation type and outcome.",
		}, []string{"type", "outcome"}),
		operationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graphql_operation_duration_seconds",
			Help:      "Time spent executing GraphQL operations.",
			Buckets:   prometheus.DefBuckets,
		}),
		documentsParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_parsed_total",
			Help:      "Documents attached to requests, by whether the parse cache served them.",
		}, []string{"cached"}),
		validationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Documents rejected by validation.",
		}),
		collectionDiags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_diagnostics_total",
			Help:      "Diagnostics raised while collecting fields, by code.",
		}, []string{"code"}),
		segmentPoolOverflow: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_pool_overflow_total",
			Help:      "Path segments allocated outside the per-request pool.",
		}),
		mergeLeftovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_leftovers_total",
			Help:      "Type groups no schema merge handler accepted.",
		}),
	}
}

// Registry returns the registry holding m's collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves m in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Subscribe updates m from the global bus until unsubscribe is called.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.RequestServed) {
			m.httpRequests.WithLabelValues(strconv.Itoa(e.Status)).Inc()
			m.httpDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.OperationFinished) {
			outcome := "ok"
			if len(e.Errors) > 0 {
				outcome = "error"
			}
			m.operations.WithLabelValues(e.Type, outcome).Inc()
			m.operationDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.DocumentParsed) {
			m.documentsParsed.WithLabelValues(strconv.FormatBool(e.Cached)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, _ events.ValidationFailed) {
			m.validationFailures.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CollectionDiagnostics) {
			for _, d := range e.Diagnostics {
				m.collectionDiags.WithLabelValues(string(d.Code)).Inc()
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SegmentPoolOverflow) {
			m.segmentPoolOverflow.Add(float64(e.Overflow))
		}),
		eventbus.Subscribe(func(_ context.Context, _ events.MergeLeftover) {
			m.mergeLeftovers.Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
