package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	hc := NewHealthController(nil)
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	hc.HealthCheck(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	expectedBody := `{"status": "ok"}`
	if rr.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, rr.Body.String())
	}

	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type application/json, got %v", rr.Header().Get("Content-Type"))
	}
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	hc := NewHealthController(pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rr := httptest.NewRecorder()

	hc.HealthCheck(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	expectedBody := `{"status": "unavailable", "database": "down"}`
	if rr.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, rr.Body.String())
	}
}

func TestHealthCheckDatabaseUp(t *testing.T) {
	called := false
	hc := NewHealthController(pingFunc(func(context.Context) error { called = true; return nil }))
	rr := httptest.NewRecorder()

	hc.HealthCheck(rr, httptest.NewRequest("GET", "/", nil))

	if !called {
		t.Error("expected database ping")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}
