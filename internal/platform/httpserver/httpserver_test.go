package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrap_AssignsRequestID(t *testing.T) {
	var seen string
	h := Wrap(testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://governance.test/", nil))

	got := rec.Header().Get("X-Request-Id")
	if got == "" {
		t.Fatalf("expected X-Request-Id response header")
	}
	if seen != got {
		t.Fatalf("context id=%q, header id=%q", seen, got)
	}
}

func TestWrap_KeepsCallerRequestID(t *testing.T) {
	h := Wrap(testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "http://governance.test/", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "rid-123" {
		t.Fatalf("X-Request-Id=%q, want rid-123", got)
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	h := Wrap(testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://governance.test/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q, want application/json", ct)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := Readyz("governance-api",
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "evidence_bucket", Timeout: time.Second, Check: func(context.Context) error {
			return errors.New("bucket missing")
		}},
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_ready" || len(body.Checks) != 2 || body.Checks[1].Status != "fail" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
