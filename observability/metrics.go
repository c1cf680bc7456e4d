package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Activity metrics
	ActivityEventsTotal  *prometheus.CounterVec
	AccessDeniedTotal    *prometheus.CounterVec
	ApprovalDecisions    *prometheus.CounterVec
	OrphansRemovedTotal  prometheus.Counter
	RegistrationFailures *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ auth.ActivitySink = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ActivityEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_activity_events_total",
				Help: "Total number of activity events by type",
			},
			[]string{"event_type"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_access_denied_total",
				Help: "Total number of denied route accesses by decision",
			},
			[]string{"decision"},
		),
		ApprovalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_approval_decisions_total",
				Help: "Total number of approval decisions",
			},
			[]string{"decision"},
		),
		OrphansRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campus_orphans_removed_total",
				Help: "Total number of orphaned principals removed",
			},
		),
		RegistrationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_registration_failures_total",
				Help: "Total number of registrations that failed after the principal was created",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActivityEventsTotal,
		m.AccessDeniedTotal,
		m.ApprovalDecisions,
		m.OrphansRemovedTotal,
		m.RegistrationFailures,
	)

	return m
}

// Record implements auth.ActivitySink
func (m *Metrics) Record(_ context.Context, event auth.ActivityEvent) error {
	m.ActivityEventsTotal.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case auth.ActivityEventAccessDenied:
		m.AccessDeniedTotal.WithLabelValues(metaString(event.Metadata, "decision")).Inc()
	case auth.ActivityEventApprovalDecided:
		m.ApprovalDecisions.WithLabelValues(metaString(event.Metadata, "decision")).Inc()
	case auth.ActivityEventOrphanRemoved:
		m.OrphansRemovedTotal.Inc()
	case auth.ActivityEventRegistrationCompensated:
		m.RegistrationFailures.WithLabelValues("compensated").Inc()
	case auth.ActivityEventRegistrationOrphaned:
		m.RegistrationFailures.WithLabelValues("orphaned").Inc()
	}
	return nil
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records request count and latency keyed by the matched route
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		path := c.Path()
		if route := c.Route(); route != nil && route.Path != "" {
			path = route.Path
		}

		m.RecordHTTPRequest(c.Method(), path, status, time.Since(start))
		return err
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}
