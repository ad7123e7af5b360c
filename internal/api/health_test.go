package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		p, st := newTestPipeline(t)
		h := NewHealthHandler(st, p, nil, "test", time.Now())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "healthy" {
			t.Errorf("Status = %q, want healthy", resp.Status)
		}
		if resp.Checks["store"] != "ok" {
			t.Errorf("store check = %q, want ok", resp.Checks["store"])
		}
		if resp.Checks["tailer"] != "not_configured" {
			t.Errorf("tailer check = %q, want not_configured", resp.Checks["tailer"])
		}
		if resp.Version != "test" {
			t.Errorf("Version = %q, want test", resp.Version)
		}
	})

	t.Run("unhealthy_when_store_unreachable", func(t *testing.T) {
		p, st := newTestPipeline(t)
		h := NewHealthHandler(st, p, nil, "test", time.Now())
		st.Close()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "unhealthy" {
			t.Errorf("Status = %q, want unhealthy", resp.Status)
		}
	})
}
