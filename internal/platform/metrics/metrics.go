// Package metrics exposes the scheduling core's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medilink"

type Metrics struct {
	reg prometheus.Gatherer

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	calendarsProvisioned prometheus.Counter
	defaultRuleFailures  prometheus.Counter

	slotGenerations        *prometheus.CounterVec
	slotGenerationDuration prometheus.Histogram
	slotCacheRequests      *prometheus.CounterVec

	bookings    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		calendarsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendars_provisioned_total",
			Help:      "Calendars created by get-or-create provisioning",
		}),
		defaultRuleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "default_rule_failures_total",
			Help:      "Default availability rules that failed to persist during provisioning",
		}),
		slotGenerations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_generations_total",
				Help:      "Slot generation runs by source (rules or fallback)",
			},
			[]string{"source"},
		),
		slotGenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_generation_duration_seconds",
			Help:      "Duration of single-day slot generation including store reads",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		}),
		slotCacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_cache_requests_total",
				Help:      "Slot cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bookings_total",
				Help:      "Booking attempts by outcome",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appointment_transitions_total",
				Help:      "Appointment status transitions by target status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.calendarsProvisioned,
		m.defaultRuleFailures,
		m.slotGenerations,
		m.slotGenerationDuration,
		m.slotCacheRequests,
		m.bookings,
		m.transitions,
	)
	return m
}

func (m *Metrics) CalendarProvisioned() {
	if m == nil {
		return
	}
	m.calendarsProvisioned.Inc()
}

func (m *Metrics) DefaultRuleFailed() {
	if m == nil {
		return
	}
	m.defaultRuleFailures.Inc()
}

// SlotsGenerated records one generation run. fallback reports whether the
// default schedule was used.
func (m *Metrics) SlotsGenerated(fallback bool, d time.Duration) {
	if m == nil {
		return
	}
	source := "rules"
	if fallback {
		source = "fallback"
	}
	m.slotGenerations.WithLabelValues(source).Inc()
	m.slotGenerationDuration.Observe(d.Seconds())
}

// SlotCache records a cache lookup; result is "hit", "miss" or "error".
func (m *Metrics) SlotCache(result string) {
	if m == nil {
		return
	}
	m.slotCacheRequests.WithLabelValues(result).Inc()
}

// Booking records a booking outcome such as "booked" or "slot_unavailable".
func (m *Metrics) Booking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = 500
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
