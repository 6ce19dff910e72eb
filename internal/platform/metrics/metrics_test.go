package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestRegistryExposesGovernanceMetrics(t *testing.T) {
	r := NewRegistry()
	r.ObserveApprovalLatency(42 * time.Second)
	r.ObserveApprovalLatency(-time.Second)
	r.IncWorkerError("worker-1", "TOKEN_INVALID")
	r.IncWorkerError("worker-1", "TOKEN_INVALID")
	r.IncWorkerError("", "")

	body := scrape(t, r)
	for _, want := range []string{
		"approval_latency_seconds_count 2",
		`approval_latency_seconds_bucket{le="60"} 2`,
		`approval_latency_seconds_bucket{le="5"} 1`,
		`worker_errors_total{code="TOKEN_INVALID",worker="worker-1"} 2`,
		`worker_errors_total{code="none",worker="unknown"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilRegistryIsInert(t *testing.T) {
	var r *Registry
	r.ObserveApprovalLatency(time.Second)
	r.IncWorkerError("worker-1", "EXECUTION_FAILED")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
