// Package handlers contains the HTTP handler implementations for the
// PostPilot API. Handlers depend on narrow, locally-defined interfaces so
// tests can inject fakes without touching the concrete billing or external
// packages.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/external"
	"postpilot/internal/prompts"
	"postpilot/internal/types"
)

// QuotaMeter is the admission contract for metered operations. Mirrors the
// concrete billing.Meter methods used by the handlers.
type QuotaMeter interface {
	CheckAndConsume(ctx context.Context, accountID string, asserted types.PlanTier) (*types.QuotaDecision, error)
	Snapshot(ctx context.Context, accountID string, asserted types.PlanTier) (*types.UsageSnapshot, error)
}

// GenerateRequest is the request body for every POST /v1/generate/{operation}
// endpoint. Content carries the topic, draft, or post being responded to.
type GenerateRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Plan      string `json:"plan,omitempty"`
	Content   string `json:"content" validate:"required"`
}

// GenerateResponse is the success body for generation endpoints. The
// remaining counts are post-consumption; null means the window is unbounded.
type GenerateResponse struct {
	Result           string `json:"result"`
	RemainingDaily   *int   `json:"remaining_daily"`
	RemainingMonthly *int   `json:"remaining_monthly"`
}

// GenerateHandler serves the content generation endpoints. Every request
// passes through the quota meter before the model is called; an admitted
// unit is spent even when generation subsequently fails.
type GenerateHandler struct {
	meter     QuotaMeter
	generator external.Generator
	validator *core.Validator
	logger    *slog.Logger
}

// NewGenerateHandler creates a GenerateHandler with the provided dependencies.
func NewGenerateHandler(meter QuotaMeter, generator external.Generator, v *core.Validator, l *slog.Logger) *GenerateHandler {
	if l == nil {
		l = slog.Default()
	}
	return &GenerateHandler{
		meter:     meter,
		generator: generator,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts one POST endpoint per content operation under
// /generate. All operations share the same request contract and quota cost.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/generate", func(r chi.Router) {
		for _, op := range prompts.Operations() {
			r.Post("/"+op, h.handleOperation(op))
		}
	})
}

// handleOperation returns the handler for one content operation.
//
// Flow:
//  1. Decode and validate the request (account_id required, content
//     required and non-blank).
//  2. CheckAndConsume one unit against the account's entitlement.
//  3. On rejection, return 429 with the exhausted window's code.
//  4. On admission, call the generator and return the result with the
//     post-consumption remaining counts.
//
// A generator failure after admission returns 502 and does not refund the
// consumed unit.
func (h *GenerateHandler) handleOperation(operation string) http.HandlerFunc {
	system, ok := prompts.System(operation)
	if !ok {
		// Route registration and the prompt table are driven by the same
		// operation list, so this is unreachable.
		panic("unknown generate operation: " + operation)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationEmptyContent,
				"content must not be blank",
				nil,
			))
			return
		}

		decision, err := h.meter.CheckAndConsume(r.Context(), req.AccountID, types.PlanTier(req.Plan))
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if !decision.Admitted {
			core.Error(w, r, quotaError(decision.Reason))
			return
		}

		result, err := h.generator.Generate(r.Context(), system, req.Content)
		if err != nil {
			// The unit stays consumed. Refunding here would let a flaky
			// upstream turn the caps into a suggestion.
			h.logger.ErrorContext(r.Context(), "generation failed after quota admission",
				slog.String("operation", operation),
				slog.String("account_id", req.AccountID),
				slog.Any("error", err),
			)
			core.Error(w, r, err)
			return
		}

		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
			Result:           result,
			RemainingDaily:   decision.RemainingDaily,
			RemainingMonthly: decision.RemainingMonthly,
		}})
	}
}

// quotaError maps a rejection reason to its client-facing error.
func quotaError(reason types.RejectReason) *types.AppError {
	switch reason {
	case types.RejectMonthlyLimit:
		return types.NewAppError(
			types.ErrCodeLimitMonthly,
			"monthly generation limit reached; upgrade your plan or wait for the window to reset",
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeLimitDaily,
			"daily generation limit reached; upgrade your plan or wait for the window to reset",
			nil,
		)
	}
}
