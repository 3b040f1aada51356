// Package telemetry exposes Prometheus metrics for HTTP traffic, workflow
// transitions and notification delivery.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/hospital/internal/platform/apperr"
)

const namespace = "hospital"

// Outcome labels for Transition.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics owns every collector. Construct one per process with a registry;
// tests pass prometheus.NewRegistry().
type Metrics struct {
	registry       *prometheus.Registry
	activeRequests prometheus.Gauge
	requestSeconds *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "In-flight HTTP requests.",
		}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by event, sink and result.",
		}, []string{"event", "sink", "result"}),
	}
	reg.MustRegister(m.activeRequests, m.requestSeconds, m.transitions, m.notifications)
	return m
}

// NewDefault registers the collectors together with the Go runtime and
// process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// Transition counts one workflow operation. Safe on a nil receiver.
func (m *Metrics) Transition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// Observe counts operation with the outcome implied by err: a taxonomy
// rejection is OutcomeRejected, anything internal is OutcomeError.
func (m *Metrics) Observe(operation string, err error) {
	switch {
	case err == nil:
		m.Transition(operation, OutcomeOK)
	case apperr.KindOf(err) == apperr.KindInternal:
		m.Transition(operation, OutcomeError)
	default:
		m.Transition(operation, OutcomeRejected)
	}
}

// Delivery counts one notification attempt. Safe on a nil receiver.
func (m *Metrics) Delivery(event, sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(event, sink, result).Inc()
}

// Middleware records latency per route pattern. A nil receiver yields a
// pass-through.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			m.activeRequests.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = apperr.StatusOf(err)
			}
			m.requestSeconds.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
