package external

import (
	"context"

	"postpilot/internal/types"
)

// Generator abstracts the text-generation model provider. Implementations
// translate a system instruction plus user input into generated content.
type Generator interface {
	// Generate produces content for the given user input under the given
	// system instruction. Returns the generated text on success.
	Generate(ctx context.Context, system string, input string) (string, error)
}

// CheckoutService abstracts payment-provider checkout session creation.
type CheckoutService interface {
	// CreateCheckoutSession starts a subscription purchase flow for the
	// account and plan. Returns the provider-hosted redirect URL.
	CreateCheckoutSession(ctx context.Context, accountID string, plan types.PlanTier) (checkoutURL string, err error)
}

// WebhookVerifier abstracts webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Provider event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubDeleted        = "customer.subscription.deleted"
	EventCoinbaseChargeConfirmed = "charge:confirmed"
)
