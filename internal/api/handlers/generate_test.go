package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/types"
)

// --- Mock Implementations ---

// mockMeter implements QuotaMeter for testing.
type mockMeter struct {
	decision    *types.QuotaDecision
	decisionErr error
	snapshot    *types.UsageSnapshot
	snapshotErr error

	consumeCalls  []meterCall
	snapshotCalls []meterCall
}

type meterCall struct {
	AccountID string
	Plan      types.PlanTier
}

func (m *mockMeter) CheckAndConsume(ctx context.Context, accountID string, asserted types.PlanTier) (*types.QuotaDecision, error) {
	m.consumeCalls = append(m.consumeCalls, meterCall{AccountID: accountID, Plan: asserted})
	return m.decision, m.decisionErr
}

func (m *mockMeter) Snapshot(ctx context.Context, accountID string, asserted types.PlanTier) (*types.UsageSnapshot, error) {
	m.snapshotCalls = append(m.snapshotCalls, meterCall{AccountID: accountID, Plan: asserted})
	return m.snapshot, m.snapshotErr
}

// mockGenerator implements external.Generator for testing.
type mockGenerator struct {
	result string
	err    error
	calls  []generateCall
}

type generateCall struct {
	System string
	Input  string
}

func (m *mockGenerator) Generate(ctx context.Context, system, input string) (string, error) {
	m.calls = append(m.calls, generateCall{System: system, Input: input})
	if m.err != nil {
		return "", m.err
	}
	return m.result, nil
}

// --- Test Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerateRouter(meter *mockMeter, gen *mockGenerator) *chi.Mux {
	h := NewGenerateHandler(meter, gen, core.NewValidator(testLogger()), testLogger())
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, r)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}

func admitDecision(remainingDaily, remainingMonthly int) *types.QuotaDecision {
	return &types.QuotaDecision{
		Admitted:         true,
		RemainingDaily:   types.IntPtr(remainingDaily),
		RemainingMonthly: types.IntPtr(remainingMonthly),
	}
}

// --- Tests ---

func TestGenerate_Success(t *testing.T) {
	meter := &mockMeter{decision: admitDecision(2, 29)}
	gen := &mockGenerator{result: "Fresh sourdough needs only three things."}
	router := newGenerateRouter(meter, gen)

	w := postJSON(t, router, "/v1/generate/post",
		`{"account_id":"acct_1","plan":"free","content":"sourdough baking tips"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data GenerateResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Result != "Fresh sourdough needs only three things." {
		t.Errorf("unexpected result: %q", resp.Data.Result)
	}
	if resp.Data.RemainingDaily == nil || *resp.Data.RemainingDaily != 2 {
		t.Errorf("expected remaining_daily 2, got %v", resp.Data.RemainingDaily)
	}
	if resp.Data.RemainingMonthly == nil || *resp.Data.RemainingMonthly != 29 {
		t.Errorf("expected remaining_monthly 29, got %v", resp.Data.RemainingMonthly)
	}

	if len(meter.consumeCalls) != 1 {
		t.Fatalf("expected 1 consume call, got %d", len(meter.consumeCalls))
	}
	if meter.consumeCalls[0].AccountID != "acct_1" || meter.consumeCalls[0].Plan != types.PlanFree {
		t.Errorf("unexpected consume call: %+v", meter.consumeCalls[0])
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected 1 generate call, got %d", len(gen.calls))
	}
	if gen.calls[0].Input != "sourdough baking tips" {
		t.Errorf("expected user content passed through, got %q", gen.calls[0].Input)
	}
	if gen.calls[0].System == "" {
		t.Error("expected a system instruction to be set")
	}
}

func TestGenerate_AllOperationsMounted(t *testing.T) {
	for _, op := range []string{"post", "thread", "reply", "caption", "carousel", "reel"} {
		meter := &mockMeter{decision: admitDecision(1, 1)}
		gen := &mockGenerator{result: "draft"}
		router := newGenerateRouter(meter, gen)

		w := postJSON(t, router, "/v1/generate/"+op,
			`{"account_id":"acct_1","content":"topic"}`)
		if w.Code != http.StatusOK {
			t.Errorf("operation %s: expected status 200, got %d", op, w.Code)
		}
	}
}

func TestGenerate_DistinctSystemInstructions(t *testing.T) {
	meter := &mockMeter{decision: admitDecision(1, 1)}
	gen := &mockGenerator{result: "draft"}
	router := newGenerateRouter(meter, gen)

	postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"topic"}`)
	postJSON(t, router, "/v1/generate/reel", `{"account_id":"acct_1","content":"topic"}`)

	if len(gen.calls) != 2 {
		t.Fatalf("expected 2 generate calls, got %d", len(gen.calls))
	}
	if gen.calls[0].System == gen.calls[1].System {
		t.Error("expected different operations to use different system instructions")
	}
}

func TestGenerate_MissingAccountID(t *testing.T) {
	meter := &mockMeter{}
	router := newGenerateRouter(meter, &mockGenerator{})

	w := postJSON(t, router, "/v1/generate/post", `{"content":"topic"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeValidationMissingField) {
		t.Errorf("expected code %s, got %s", types.ErrCodeValidationMissingField, code)
	}
	if len(meter.consumeCalls) != 0 {
		t.Error("expected no quota consumption on validation failure")
	}
}

func TestGenerate_BlankContent(t *testing.T) {
	meter := &mockMeter{}
	router := newGenerateRouter(meter, &mockGenerator{})

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"   "}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeValidationEmptyContent) {
		t.Errorf("expected code %s, got %s", types.ErrCodeValidationEmptyContent, code)
	}
	if len(meter.consumeCalls) != 0 {
		t.Error("expected no quota consumption for blank content")
	}
}

func TestGenerate_MalformedJSON(t *testing.T) {
	router := newGenerateRouter(&mockMeter{}, &mockGenerator{})

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestGenerate_DailyLimitRejected(t *testing.T) {
	meter := &mockMeter{decision: &types.QuotaDecision{Admitted: false, Reason: types.RejectDailyLimit}}
	gen := &mockGenerator{}
	router := newGenerateRouter(meter, gen)

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"topic"}`)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeLimitDaily) {
		t.Errorf("expected code %s, got %s", types.ErrCodeLimitDaily, code)
	}
	if len(gen.calls) != 0 {
		t.Error("generator must not be called for rejected requests")
	}
}

func TestGenerate_MonthlyLimitRejected(t *testing.T) {
	meter := &mockMeter{decision: &types.QuotaDecision{Admitted: false, Reason: types.RejectMonthlyLimit}}
	router := newGenerateRouter(meter, &mockGenerator{})

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"topic"}`)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeLimitMonthly) {
		t.Errorf("expected code %s, got %s", types.ErrCodeLimitMonthly, code)
	}
}

func TestGenerate_MeterErrorFailsClosed(t *testing.T) {
	meter := &mockMeter{decisionErr: types.NewAppError(types.ErrCodeInternalDB, "store unavailable", nil)}
	gen := &mockGenerator{}
	router := newGenerateRouter(meter, gen)

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"topic"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if len(gen.calls) != 0 {
		t.Error("generator must not be called when the meter fails")
	}
}

func TestGenerate_GeneratorFailureIs502NoRefund(t *testing.T) {
	meter := &mockMeter{decision: admitDecision(2, 29)}
	gen := &mockGenerator{err: types.NewAppError(types.ErrCodeUpstreamGeneration, "model unavailable", errors.New("503"))}
	router := newGenerateRouter(meter, gen)

	w := postJSON(t, router, "/v1/generate/post", `{"account_id":"acct_1","content":"topic"}`)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != string(types.ErrCodeUpstreamGeneration) {
		t.Errorf("expected code %s, got %s", types.ErrCodeUpstreamGeneration, code)
	}
	// The unit stays consumed: exactly one consume call and no compensating
	// mutation exists on the meter interface at all.
	if len(meter.consumeCalls) != 1 {
		t.Errorf("expected exactly 1 consume call, got %d", len(meter.consumeCalls))
	}
}

func TestGenerate_UnknownOperationIs404(t *testing.T) {
	router := newGenerateRouter(&mockMeter{}, &mockGenerator{})

	w := postJSON(t, router, "/v1/generate/haiku", `{"account_id":"acct_1","content":"topic"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}
