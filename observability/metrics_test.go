package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordActivity(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	events := []auth.ActivityEvent{
		{EventType: auth.ActivityEventRegistrationSubmitted},
		{EventType: auth.ActivityEventApprovalDecided, Metadata: map[string]any{"decision": "approve"}},
		{EventType: auth.ActivityEventApprovalDecided, Metadata: map[string]any{"decision": "reject"}},
		{EventType: auth.ActivityEventAccessDenied, Metadata: map[string]any{"decision": "redirect-to-pending"}},
		{EventType: auth.ActivityEventOrphanRemoved},
		{EventType: auth.ActivityEventRegistrationCompensated},
	}
	for _, event := range events {
		require.NoError(t, metrics.Record(ctx, event))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ActivityEventsTotal.WithLabelValues(string(auth.ActivityEventApprovalDecided))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ApprovalDecisions.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ApprovalDecisions.WithLabelValues("reject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessDeniedTotal.WithLabelValues("redirect-to-pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OrphansRemovedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RegistrationFailures.WithLabelValues("compensated")))
}

func TestMetricsUnknownDecisionLabel(t *testing.T) {
	metrics := NewMetrics(nil)

	require.NoError(t, metrics.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventAccessDenied}))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessDeniedTotal.WithLabelValues("unknown")))
}

func TestMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(metrics.Middleware())
	app.Get("/profiles/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/profiles/42", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/profiles/:id", "204")))
}

func TestMetricsHandler(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.RecordHTTPRequest("GET", "/me", 200, 10*time.Millisecond)

	server := httptest.NewServer(metrics.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "campus_http_requests_total"))
}
