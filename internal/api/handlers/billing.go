package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/external"
	"postpilot/internal/types"
)

// CheckoutRequest is the request body for POST /v1/billing/checkout.
type CheckoutRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Plan      string `json:"plan" validate:"required"`
}

// CheckoutResponse carries the provider-hosted checkout redirect URL.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// BillingHandler serves the checkout endpoint. Plan changes themselves only
// happen through verified webhook events; this endpoint just starts the
// provider-hosted purchase flow.
type BillingHandler struct {
	checkout  external.CheckoutService
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(checkout external.CheckoutService, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		checkout:  checkout,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout", h.CreateCheckout)
	})
}

// CreateCheckout handles POST /v1/billing/checkout. Only paid tiers can be
// checked out; the free tier and unknown tiers are rejected with 400.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan := types.PlanTier(req.Plan)
	if !plan.Valid() || plan == types.PlanFree {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			"plan must be a paid tier",
			nil,
		))
		return
	}

	url, err := h.checkout.CreateCheckoutSession(r.Context(), req.AccountID, plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		slog.String("account_id", req.AccountID),
		slog.String("plan", string(plan)),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{CheckoutURL: url}})
}
