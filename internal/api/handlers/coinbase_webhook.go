package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/external"
	"postpilot/internal/types"
)

// coinbaseEvent is the minimal shape of a Coinbase Commerce webhook delivery.
type coinbaseEvent struct {
	Event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"event"`
}

// CoinbaseWebhookHandler handles crypto payment confirmations from Coinbase
// Commerce. Same response contract as the Stripe webhook: 400 terminal, 500
// retryable, 200 acknowledged.
//
// Crypto charges carry no subscription reference, so a later cancellation
// cannot be correlated back; the activation is a one-shot plan grant.
type CoinbaseWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler EventReconciler
	secret     string
	logger     *slog.Logger
}

// NewCoinbaseWebhookHandler creates a CoinbaseWebhookHandler with the
// provided dependencies.
func NewCoinbaseWebhookHandler(verifier external.WebhookVerifier, reconciler EventReconciler, secret string, logger *slog.Logger) *CoinbaseWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoinbaseWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Coinbase Commerce webhook endpoint.
func (h *CoinbaseWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/coinbase", h.Handle)
}

// Handle processes one Coinbase Commerce webhook delivery.
func (h *CoinbaseWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookEventInvalid,
			"failed to read webhook body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("X-CC-Webhook-Signature")
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "coinbase signature verification failed",
			slog.Any("error", err),
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event coinbaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookEventInvalid,
			"malformed webhook event JSON",
			err,
		))
		return
	}

	if event.Event.Type != external.EventCoinbaseChargeConfirmed {
		h.logger.InfoContext(r.Context(), "ignoring unhandled coinbase event type",
			slog.String("event_id", event.Event.ID),
			slog.String("event_type", event.Event.Type),
		)
		acknowledge(w, r)
		return
	}

	metadata := event.Event.Data.Metadata
	paymentEvent := types.AlternatePaymentCompleted{
		AccountID: metadata["account_id"],
		Plan:      types.PlanTier(metadata["plan"]),
	}

	if err := h.reconciler.Apply(r.Context(), paymentEvent); err != nil {
		h.logger.ErrorContext(r.Context(), "coinbase event reconciliation failed",
			slog.String("event_id", event.Event.ID),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "coinbase event applied",
		slog.String("event_id", event.Event.ID),
		slog.String("account_id", metadata["account_id"]),
	)
	acknowledge(w, r)
}
