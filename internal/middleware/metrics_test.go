package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tenantcrm/crm/internal/telemetry"
)

// findSeries returns the collected series of c whose labels include every pair in labels
func findSeries(c prometheus.Collector, labels prometheus.Labels) *dto.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var found *dto.Metric
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil || found != nil {
			continue
		}
		matched := 0
		for _, lp := range dm.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			found = &dm
		}
	}
	return found
}

func requestCount(labels prometheus.Labels) float64 {
	if m := findSeries(telemetry.HTTPRequestsTotal, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func newMetricsRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/organizations/:org/members", func(c *gin.Context) { c.Status(status) })
	return r
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/organizations/:org/members", "status": "200"}
	before := requestCount(labels)

	w := httptest.NewRecorder()
	newMetricsRouter(http.StatusOK).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/organizations/org-42/members", nil))

	if after := requestCount(labels); after-before != 1 {
		t.Errorf("http_requests_total delta = %.0f, want 1", after-before)
	}
	if m := findSeries(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "/api/v1/organizations/org-42/members"}); m != nil {
		t.Error("raw URL used as path label")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/organizations/:org/members"}
	var before uint64
	if m := findSeries(telemetry.HTTPRequestDuration, labels); m != nil {
		before = m.GetHistogram().GetSampleCount()
	}

	newMetricsRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/organizations/o/members", nil))

	m := findSeries(telemetry.HTTPRequestDuration, labels)
	if m == nil || m.GetHistogram().GetSampleCount() <= before {
		t.Error("http_request_duration_seconds sample count did not increase")
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/organizations/:org/members", "status": "403"}
	before := requestCount(labels)

	newMetricsRouter(http.StatusForbidden).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/organizations/o/members", nil))

	if after := requestCount(labels); after-before != 1 {
		t.Errorf("http_requests_total{status=403} delta = %.0f, want 1", after-before)
	}
}

func TestMetricsMiddleware_NoRouteLabel(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": noRoute, "status": "404"}
	before := requestCount(labels)

	r := gin.New()
	r.Use(MetricsMiddleware())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if after := requestCount(labels); after-before != 1 {
		t.Errorf("no-route request delta = %.0f, want 1", after-before)
	}
}
