package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the client's collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	ledgerCalls *prometheus.CounterVec
	signals     *prometheus.CounterVec
	derivations *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2plend",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger contract calls segmented by method, kind and outcome.",
		}, []string{"method", "kind", "outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2plend",
			Subsystem: "events",
			Name:      "signals_total",
			Help:      "Ledger events seen by the bus segmented by category and relevance.",
		}, []string{"category", "relevant"}),
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2plend",
			Subsystem: "domain",
			Name:      "derivations_total",
			Help:      "Completed borrower and investor derivations segmented by result.",
		}, []string{"component", "result", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2plend",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "p2plend",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.ledgerCalls,
		m.signals,
		m.derivations,
		m.requests,
		m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveLedgerCall(method, kind string, err error) {
	m.ledgerCalls.WithLabelValues(method, kind, outcome(err)).Inc()
}

func (m *Metrics) ObserveSignal(category string, relevant bool) {
	m.signals.WithLabelValues(category, strconv.FormatBool(relevant)).Inc()
}

func (m *Metrics) ObserveDerivation(component, result string, err error) {
	m.derivations.WithLabelValues(component, result, outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
