package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/custody/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobCollectors(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	require.NoError(t, jobs.Track("custody:replay").End(nil))

	require.Contains(t, scrape(t, metrics), `custody_jobs_total{job="custody:replay",status="success"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `custody_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `custody_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.TransferTransition("Completed")
	metrics.TransferTransition("Completed")
	metrics.ItemsReassigned(3)
	metrics.ItemsReassigned(0)
	metrics.CleanupOutcome("item", "blocked")
	metrics.ChangePublished("inventory_items")

	body := scrape(t, metrics)
	require.Contains(t, body, `custody_transfer_transitions_total{status="Completed"} 2`)
	require.Contains(t, body, `custody_items_reassigned_total 3`)
	require.Contains(t, body, `custody_cleanup_outcomes_total{entity="item",outcome="blocked"} 1`)
	require.Contains(t, body, `custody_changes_published_total{table="inventory_items"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.TransferTransition("Issued")
	metrics.ItemsReassigned(1)
	metrics.CleanupOutcome("slip", "deleted")
	metrics.ChangePublished("custodian_slips")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
