package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/VictoriaMetrics/metrics"
)

func TestMetricsEndpoint(t *testing.T) {
	metrics.GetOrCreateCounter("rkv_admin_test_total").Inc()
	s := NewAdminServer("127.0.0.1:0", nil, true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rkv_admin_test_total 1") {
		t.Errorf("Expected counter in output, got:\n%s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		health HealthFunc
		code   int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func() error { return nil }, http.StatusOK},
		{"unhealthy", func() error { return errors.New("store closed") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAdminServer("127.0.0.1:0", tt.health, false)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestPprofIndex(t *testing.T) {
	s := NewAdminServer("127.0.0.1:0", nil, false)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
}

func TestLoggerMiddlewareCapturesStatus(t *testing.T) {
	var captured *responseWriter
	h := loggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if captured == nil || captured.statusCode != http.StatusTeapot {
		t.Errorf("Expected captured status 418")
	}
}
