package types

// PaymentEvent is the sealed set of payment lifecycle events consumed by the
// reconciler. Events arrive from webhook transports after signature
// verification and are delivered at-least-once; applying any of them must be
// idempotent.
type PaymentEvent interface {
	// EventName returns a stable identifier used in logs.
	EventName() string

	isPaymentEvent()
}

// SubscriptionActivated signals that a card subscription checkout completed.
// Applying it upserts the entitlement: sets the plan, stores the provider
// refs, marks the subscription active, and grants a fresh quota window
// (both counters reset to zero).
type SubscriptionActivated struct {
	AccountID       string
	Plan            PlanTier
	CustomerRef     string
	SubscriptionRef string
}

func (SubscriptionActivated) EventName() string { return "subscription_activated" }
func (SubscriptionActivated) isPaymentEvent()   {}

// SubscriptionCanceled signals that the provider canceled a subscription.
// The event carries only the provider subscription ref; the record is
// resolved through the secondary index. An unmatched ref is a no-op.
type SubscriptionCanceled struct {
	SubscriptionRef string
}

func (SubscriptionCanceled) EventName() string { return "subscription_canceled" }
func (SubscriptionCanceled) isPaymentEvent()   {}

// AlternatePaymentCompleted signals a finished payment on a non-card rail
// (crypto checkout). Same upsert-and-reset semantics as SubscriptionActivated
// but without provider refs to correlate later cancellations.
type AlternatePaymentCompleted struct {
	AccountID string
	Plan      PlanTier
}

func (AlternatePaymentCompleted) EventName() string { return "alternate_payment_completed" }
func (AlternatePaymentCompleted) isPaymentEvent()   {}
