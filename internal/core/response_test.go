package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postpilot/internal/types"
)

// --- JSON helper tests ---

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	data := APIResponse{Data: map[string]string{"name": "test"}}
	JSON(w, r, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	dataMap, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be a map, got %T", body.Data)
	}
	if dataMap["name"] != "test" {
		t.Errorf("expected name=test, got %v", dataMap["name"])
	}
}

func TestJSON_Created(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	data := map[string]string{"id": "acct_123"}
	JSON(w, r, http.StatusCreated, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", resp.StatusCode)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := types.WithRequestID(r.Context(), "req-marshal-fail")
	r = r.WithContext(ctx)

	// Channels cannot be marshalled to JSON.
	unmarshalable := make(chan int)
	JSON(w, r, http.StatusOK, unmarshalable)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode fallback error: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
	if errResp.Error.RequestID != "req-marshal-fail" {
		t.Errorf("expected request_id req-marshal-fail, got %s", errResp.Error.RequestID)
	}
}

// --- Error helper tests ---

func TestError_AppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-quota"))

	appErr := types.NewAppError(types.ErrCodeLimitDaily, "daily generation limit reached", nil)
	Error(w, r, appErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeLimitDaily) {
		t.Errorf("expected code %s, got %s", types.ErrCodeLimitDaily, errResp.Error.Code)
	}
	if errResp.Error.Message != "daily generation limit reached" {
		t.Errorf("unexpected message: %s", errResp.Error.Message)
	}
	if errResp.Error.RequestID != "req-quota" {
		t.Errorf("expected request_id req-quota, got %s", errResp.Error.RequestID)
	}
}

func TestError_WrappedAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	appErr := types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	wrapped := errors.Join(errors.New("outer context"), appErr)
	Error(w, r, wrapped)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestError_GenericError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pgx: connection refused"))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
	// Internal error text must never reach the client.
	if strings.Contains(errResp.Error.Message, "pgx") {
		t.Errorf("internal error detail leaked to client: %s", errResp.Error.Message)
	}
}

func TestError_AppErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	appErr := types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"invalid request: account_id",
		nil,
		map[string]any{"account_id": "required"},
	)
	Error(w, r, appErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Details["account_id"] != "required" {
		t.Errorf("expected details.account_id=required, got %v", errResp.Error.Details)
	}
}

// --- DecodeJSON tests ---

type decodeTarget struct {
	AccountID string `json:"account_id"`
	Content   string `json:"content"`
}

func decodeRequest(t *testing.T, body string) error {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dst decodeTarget
	return DecodeJSON(w, r, &dst)
}

func assertInvalidJSON(t *testing.T, err error) *types.AppError {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errCodeValidationInvalidJSON {
		t.Errorf("expected code %s, got %s", errCodeValidationInvalidJSON, appErr.Code)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400 mapping, got %d", appErr.HTTPStatus())
	}
	return appErr
}

func TestDecodeJSON_Valid(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"account_id":"acct_1","content":"sourdough tips"}`))

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.AccountID != "acct_1" {
		t.Errorf("expected account_id acct_1, got %s", dst.AccountID)
	}
	if dst.Content != "sourdough tips" {
		t.Errorf("expected content to round-trip, got %s", dst.Content)
	}
}

func TestDecodeJSON_SyntaxError(t *testing.T) {
	err := decodeRequest(t, `{"account_id": `)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	err := decodeRequest(t, `{"account_id":"acct_1","bogus":true}`)
	appErr := assertInvalidJSON(t, err)
	if !strings.Contains(appErr.Message, "bogus") {
		t.Errorf("expected unknown field name in message, got %s", appErr.Message)
	}
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	err := decodeRequest(t, "")
	appErr := assertInvalidJSON(t, err)
	if !strings.Contains(appErr.Message, "empty") {
		t.Errorf("expected empty-body message, got %s", appErr.Message)
	}
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	err := decodeRequest(t, `{"account_id":123}`)
	appErr := assertInvalidJSON(t, err)
	if appErr.Details["field"] != "account_id" {
		t.Errorf("expected details.field=account_id, got %v", appErr.Details)
	}
}

func TestDecodeJSON_MultipleValues(t *testing.T) {
	err := decodeRequest(t, `{"account_id":"a"}{"account_id":"b"}`)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"content":"`)
	buf.Write(bytes.Repeat([]byte("x"), maxRequestBodySize+1024))
	buf.WriteString(`"}`)

	err := decodeRequest(t, buf.String())
	appErr := assertInvalidJSON(t, err)
	if !strings.Contains(appErr.Message, "1MB") {
		t.Errorf("expected size limit message, got %s", appErr.Message)
	}
}
