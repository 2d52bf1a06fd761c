package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/core"
	"postpilot/internal/external"
	"postpilot/internal/types"
)

// maxWebhookBodySize caps webhook payloads at 64 KB. Provider payloads are
// small; the limit protects against abuse on an unauthenticated endpoint.
const maxWebhookBodySize = 64 * 1024

// EventReconciler applies verified payment events to the entitlement store.
// Mirrors the concrete billing.Reconciler method used by webhook handlers.
type EventReconciler interface {
	Apply(ctx context.Context, event types.PaymentEvent) error
}

// stripeEvent is the minimal shape of a Stripe webhook delivery. Only the
// fields the reconciler needs are parsed; everything else is ignored.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeEventObject `json:"object"`
	} `json:"data"`
}

// stripeEventObject covers both checkout sessions and subscriptions. The two
// object shapes share no required fields, so absent ones decode to zero
// values.
type stripeEventObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// accountID resolves the account correlation for a checkout session:
// client_reference_id is authoritative, metadata is the fallback.
func (o stripeEventObject) accountID() string {
	if o.ClientReferenceID != "" {
		return o.ClientReferenceID
	}
	return o.Metadata["account_id"]
}

// StripeWebhookHandler handles asynchronous events from Stripe. The endpoint
// is unauthenticated; security comes from verifying the Stripe-Signature
// header against the webhook signing secret.
//
// Response contract: 400 is terminal for the delivery attempt (signature or
// structural failure, no state changed), 500 asks the provider to retry
// (store failure), 200 acknowledges everything else including event types
// this service does not consume.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler EventReconciler
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, reconciler EventReconciler, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Mounted under /webhooks,
// outside the /v1 group, because the URL is pinned in the provider dashboard.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle processes one Stripe webhook delivery.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
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

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "stripe signature verification failed",
			slog.Any("error", err),
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookEventInvalid,
			"malformed webhook event JSON",
			err,
		))
		return
	}

	paymentEvent, handled := h.mapEvent(event)
	if !handled {
		h.logger.InfoContext(r.Context(), "ignoring unhandled stripe event type",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		acknowledge(w, r)
		return
	}

	if err := h.reconciler.Apply(r.Context(), paymentEvent); err != nil {
		h.logger.ErrorContext(r.Context(), "stripe event reconciliation failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "stripe event applied",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)
	acknowledge(w, r)
}

// mapEvent translates a Stripe delivery into a payment event. The second
// return is false for event types this service does not consume.
func (h *StripeWebhookHandler) mapEvent(event stripeEvent) (types.PaymentEvent, bool) {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		obj := event.Data.Object
		return types.SubscriptionActivated{
			AccountID:       obj.accountID(),
			Plan:            types.PlanTier(obj.Metadata["plan"]),
			CustomerRef:     obj.Customer,
			SubscriptionRef: obj.Subscription,
		}, true

	case external.EventStripeSubDeleted:
		return types.SubscriptionCanceled{
			SubscriptionRef: event.Data.Object.ID,
		}, true

	default:
		return nil, false
	}
}

// acknowledge tells the provider the delivery was received.
func acknowledge(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"received": true}})
}
