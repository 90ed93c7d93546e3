package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRunChecks(t *testing.T) {
	checks := []Check{
		{Name: "postgres", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return errors.New("dial tcp: refused") }},
	}
	results, healthy := RunChecks(context.Background(), checks)
	if healthy {
		t.Error("expected unhealthy when one check fails")
	}
	if results["postgres"] != "ok" {
		t.Errorf("expected postgres ok, got %q", results["postgres"])
	}
	if !strings.Contains(results["redis"], "refused") {
		t.Errorf("expected redis error, got %q", results["redis"])
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := HealthHandler(nil, Check{Name: "postgres", Ping: func(context.Context) error { return nil }})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := HealthHandler(nil, Check{Name: "postgres", Ping: func(context.Context) error { return errors.New("down") }})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
