package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthProbe implements HealthProbe for testing.
type mockHealthProbe struct {
	name     string
	checkErr error
	// delay simulates slow subsystems; Check blocks for this duration.
	delay time.Duration
	// called tracks whether Check was invoked.
	called atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

func doHealthCheck(t *testing.T, probes []HealthProbe) (*http.Response, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.HandleHealth(w, r)

	resp := w.Result()
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return resp, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	resp, body := doHealthCheck(t, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	dbProbe := &mockHealthProbe{name: "database"}
	resp, body := doHealthCheck(t, []HealthProbe{dbProbe})

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if !dbProbe.called.Load() {
		t.Error("expected probe to be invoked")
	}
	if comp := body.Components["database"]; comp.Status != "healthy" {
		t.Errorf("expected database component healthy, got %+v", comp)
	}
}

func TestHandleHealth_OneProbeFails(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database", checkErr: errors.New("connection refused")},
		&mockHealthProbe{name: "generation"},
	}
	resp, body := doHealthCheck(t, probes)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", body.Status)
	}
	if comp := body.Components["database"]; comp.Status != "unhealthy" || comp.Message == "" {
		t.Errorf("expected database component unhealthy with message, got %+v", comp)
	}
	if comp := body.Components["generation"]; comp.Status != "healthy" {
		t.Errorf("expected generation component healthy, got %+v", comp)
	}
}

func TestHandleHealth_ProbeTimeout(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database", delay: 10 * time.Second},
		&mockHealthProbe{name: "generation"},
	}
	resp, body := doHealthCheck(t, probes)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	comp := body.Components["database"]
	if comp.Status != "unhealthy" {
		t.Errorf("expected database component unhealthy on timeout, got %+v", comp)
	}
	if comp := body.Components["generation"]; comp.Status != "healthy" {
		t.Errorf("expected generation component healthy, got %+v", comp)
	}
}

func TestHandleHealth_ProbePanics(t *testing.T) {
	probes := []HealthProbe{panickingProbe{}}
	resp, body := doHealthCheck(t, probes)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if comp := body.Components["flaky"]; comp.Status != "unhealthy" {
		t.Errorf("expected panicking probe to be reported unhealthy, got %+v", comp)
	}
}

type panickingProbe struct{}

func (panickingProbe) Name() string { return "flaky" }

func (panickingProbe) Check(_ context.Context) error { panic("probe exploded") }
