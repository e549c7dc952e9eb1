// Package observability exposes the Prometheus registry, HTTP instrumentation
// and the saga counters.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the service's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sagaSteps       *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewMetrics initialises the registry with HTTP, saga and runtime metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksync_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_saga_steps_total",
		Help: "Shop synchronization steps by step name and result.",
	}, []string{"step", "result"})
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_reconcile_total",
		Help: "Webhook reconciliations by outcome.",
	}, []string{"status"})
	breaker := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stocksync_circuit_breaker_open",
		Help: "1 while the named upstream circuit breaker is open.",
	}, []string{"name"})
	registry.MustRegister(requests, duration, steps, reconciles, breaker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		sagaSteps:       steps,
		reconciles:      reconciles,
		breakerState:    breaker,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSagaStep counts one shop synchronization step.
func (m *Metrics) ObserveSagaStep(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sagaSteps.WithLabelValues(step, result).Inc()
}

// ObserveReconcile counts one webhook reconciliation outcome.
func (m *Metrics) ObserveReconcile(status string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(status).Inc()
}

// ObserveBreaker records whether the named circuit breaker is open.
func (m *Metrics) ObserveBreaker(name string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerState.WithLabelValues(name).Set(value)
}

// Registerer exposes the registry for component-specific collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
