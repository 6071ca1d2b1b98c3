package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the presence daemon.
// Every method is safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	registry         *prometheus.Registry
	publishesTotal   *prometheus.CounterVec
	connectsTotal    *prometheus.CounterVec
	clearsTotal      prometheus.Counter
	skippedTotal     prometheus.Counter
	queryErrorsTotal prometheus.Counter
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	sessionActive    prometheus.Gauge
	activeSources    prometheus.Gauge
	savesTotal       *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the daemon.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	publishesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenced_publishes_total",
		Help: "Presence publish attempts by result",
	}, []string{"result"})
	connectsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenced_connects_total",
		Help: "Session connect attempts by result",
	}, []string{"result"})
	clearsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presenced_clears_total",
		Help: "Total number of presence clears sent",
	})
	skippedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presenced_publishes_skipped_total",
		Help: "Ticks that found the presence unchanged and sent nothing",
	})
	queryErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presenced_media_query_errors_total",
		Help: "Total number of failed media source queries",
	})
	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presenced_api_requests_total",
		Help: "Total number of control API requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presenced_api_errors_total",
		Help: "Total number of control API responses with error status (4xx or 5xx)",
	})
	sessionActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presenced_session_active",
		Help: "1 while a presence session is open",
	})
	activeSources := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presenced_media_sources",
		Help: "Number of media sources seen at the last refresh",
	})
	savesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presenced_form_saves_total",
		Help: "Form saves by result",
	}, []string{"result"})

	registry.MustRegister(
		publishesTotal,
		connectsTotal,
		clearsTotal,
		skippedTotal,
		queryErrorsTotal,
		requestsTotal,
		errorsTotal,
		sessionActive,
		activeSources,
		savesTotal,
	)

	return &Metrics{
		registry:         registry,
		publishesTotal:   publishesTotal,
		connectsTotal:    connectsTotal,
		clearsTotal:      clearsTotal,
		skippedTotal:     skippedTotal,
		queryErrorsTotal: queryErrorsTotal,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		sessionActive:    sessionActive,
		activeSources:    activeSources,
		savesTotal:       savesTotal,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePublish counts one publish attempt.
func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	m.publishesTotal.WithLabelValues(result(err)).Inc()
}

// ObserveConnect counts one connect attempt.
func (m *Metrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	m.connectsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveSave counts one form save.
func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(result(err)).Inc()
}

// IncClears increments the clear counter.
func (m *Metrics) IncClears() {
	if m == nil {
		return
	}
	m.clearsTotal.Inc()
}

// IncSkipped increments the unchanged-presence counter.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.skippedTotal.Inc()
}

// IncQueryErrors increments the media query error counter.
func (m *Metrics) IncQueryErrors() {
	if m == nil {
		return
	}
	m.queryErrorsTotal.Inc()
}

// ObserveRequest counts one API request. Statuses of 400 and above also
// count as errors.
func (m *Metrics) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// SetSessionActive sets the session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.sessionActive.Set(1)
	} else {
		m.sessionActive.Set(0)
	}
}

// SetActiveSources sets the media source gauge.
func (m *Metrics) SetActiveSources(n int) {
	if m == nil {
		return
	}
	m.activeSources.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
