package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/types"
)

// UsageRequest is the request body for POST /v1/usage.
type UsageRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Plan      string `json:"plan,omitempty"`
}

// UsageHandler serves read-only usage snapshots. Snapshots never consume
// quota and never advance reset windows.
type UsageHandler struct {
	meter     QuotaMeter
	validator *core.Validator
	logger    *slog.Logger
}

// NewUsageHandler creates a UsageHandler with the provided dependencies.
func NewUsageHandler(meter QuotaMeter, v *core.Validator, l *slog.Logger) *UsageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{
		meter:     meter,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the usage endpoint.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/usage", h.Snapshot)
}

// Snapshot handles POST /v1/usage. For an account with no record yet, the
// snapshot reports zero usage against the asserted plan's limits.
func (h *UsageHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	snapshot, err := h.meter.Snapshot(r.Context(), req.AccountID, types.PlanTier(req.Plan))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}
