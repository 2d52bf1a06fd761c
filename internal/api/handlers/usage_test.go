package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/types"
)

func newUsageRouter(meter *mockMeter) *chi.Mux {
	h := NewUsageHandler(meter, core.NewValidator(testLogger()), testLogger())
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func TestUsage_Success(t *testing.T) {
	meter := &mockMeter{snapshot: &types.UsageSnapshot{
		Plan:         types.PlanPro,
		DailyUsed:    7,
		MonthlyUsed:  120,
		DailyLimit:   types.IntPtr(50),
		MonthlyLimit: types.IntPtr(1000),
	}}
	router := newUsageRouter(meter)

	w := postJSON(t, router, "/v1/usage", `{"account_id":"acct_1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data types.UsageSnapshot `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Plan != types.PlanPro {
		t.Errorf("expected plan pro, got %s", resp.Data.Plan)
	}
	if resp.Data.DailyUsed != 7 || resp.Data.MonthlyUsed != 120 {
		t.Errorf("unexpected usage counts: %+v", resp.Data)
	}
	if resp.Data.DailyLimit == nil || *resp.Data.DailyLimit != 50 {
		t.Errorf("expected daily limit 50, got %v", resp.Data.DailyLimit)
	}

	if len(meter.snapshotCalls) != 1 {
		t.Fatalf("expected 1 snapshot call, got %d", len(meter.snapshotCalls))
	}
	if len(meter.consumeCalls) != 0 {
		t.Error("usage endpoint must never consume quota")
	}
}

func TestUsage_UnboundedLimitsSerializeAsNull(t *testing.T) {
	meter := &mockMeter{snapshot: &types.UsageSnapshot{Plan: types.PlanUnlimited, DailyUsed: 3}}
	router := newUsageRouter(meter)

	w := postJSON(t, router, "/v1/usage", `{"account_id":"acct_1","plan":"unlimited"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	v, present := resp.Data["daily_limit"]
	if !present {
		t.Fatal("expected daily_limit key to be present")
	}
	if v != nil {
		t.Errorf("expected null daily_limit for unbounded plan, got %v", v)
	}
}

func TestUsage_MissingAccountID(t *testing.T) {
	meter := &mockMeter{}
	router := newUsageRouter(meter)

	w := postJSON(t, router, "/v1/usage", `{}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if len(meter.snapshotCalls) != 0 {
		t.Error("expected no snapshot call on validation failure")
	}
}

func TestUsage_StoreError(t *testing.T) {
	meter := &mockMeter{snapshotErr: types.NewAppError(types.ErrCodeInternalDB, "store unavailable", nil)}
	router := newUsageRouter(meter)

	w := postJSON(t, router, "/v1/usage", `{"account_id":"acct_1"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestUsage_GetMethodNotAllowed(t *testing.T) {
	router := newUsageRouter(&mockMeter{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", w.Code)
	}
}
