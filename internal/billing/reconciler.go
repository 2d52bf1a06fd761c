package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postpilot/internal/types"
)

// Reconciler applies payment lifecycle events to the entitlement store.
// Events arrive from webhook transports after signature verification, are
// delivered at-least-once and possibly out of order, so every application
// must be idempotent: replaying an event leaves the record in the same state
// as applying it once. That holds because all mutations here are set-to-value,
// never increments.
//
// The reconciler is the only component allowed to change an account's plan
// tier; the quota meter never does.
type Reconciler struct {
	store   EntitlementStore
	catalog PlanCatalog
	logger  *slog.Logger

	dailyWindow   time.Duration
	monthlyWindow time.Duration

	now func() time.Time
}

// NewReconciler creates a reconciler over the given store and catalog. The
// window lengths must match the meter's so that the fresh quota window
// granted on activation lines up with subsequent metering.
func NewReconciler(store EntitlementStore, catalog PlanCatalog, cfg MeterConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	daily := cfg.DailyWindow
	if daily <= 0 {
		daily = DefaultDailyWindow
	}
	monthly := cfg.MonthlyWindow
	if monthly <= 0 {
		monthly = DefaultMonthlyWindow
	}
	return &Reconciler{
		store:         store,
		catalog:       catalog,
		logger:        logger,
		dailyWindow:   daily,
		monthlyWindow: monthly,
		now:           time.Now,
	}
}

// Apply validates and applies one payment event. Validation failures reject
// the event without mutating any state; the transport layer translates the
// returned error into the provider's retry contract. An unresolved
// cancellation reference is a successful no-op, not an error.
func (r *Reconciler) Apply(ctx context.Context, event types.PaymentEvent) error {
	switch ev := event.(type) {
	case types.SubscriptionActivated:
		return r.applyActivation(ctx, ev.AccountID, ev.Plan, ev.CustomerRef, ev.SubscriptionRef)

	case types.AlternatePaymentCompleted:
		return r.applyActivation(ctx, ev.AccountID, ev.Plan, "", "")

	case types.SubscriptionCanceled:
		return r.applyCancellation(ctx, ev.SubscriptionRef)

	default:
		return types.NewAppError(
			types.ErrCodeWebhookEventInvalid,
			fmt.Sprintf("unsupported payment event %q", event.EventName()),
			nil,
		)
	}
}

// applyActivation upserts the entitlement for a completed purchase: set the
// plan, store provider refs, mark the subscription active, and grant a fresh
// quota window. Resetting both counters to zero is an explicit design choice
// so a user who upgrades mid-period is not still capped by pre-upgrade usage.
func (r *Reconciler) applyActivation(ctx context.Context, accountID string, plan types.PlanTier, customerRef, subscriptionRef string) error {
	if accountID == "" {
		return types.NewAppError(types.ErrCodeWebhookEventInvalid, "payment event is missing the account id", nil)
	}
	if _, ok := r.catalog.Limits(plan); !ok {
		return types.NewAppError(
			types.ErrCodeWebhookEventInvalid,
			fmt.Sprintf("payment event references unknown plan tier %q", plan),
			nil,
		)
	}

	now := r.now().UTC()
	defaults := &types.Entitlement{
		AccountID:          accountID,
		Plan:               plan,
		SubscriptionStatus: types.SubStatusActive,
		DailyResetAt:       now.Add(r.dailyWindow),
		MonthlyResetAt:     now.Add(r.monthlyWindow),
	}
	if _, err := r.store.CreateIfAbsent(ctx, defaults); err != nil {
		return err
	}

	updated, err := r.store.Update(ctx, accountID, func(rec *types.Entitlement) error {
		rec.Plan = plan
		rec.SubscriptionStatus = types.SubStatusActive
		rec.DailyCount = 0
		rec.MonthlyCount = 0
		rec.DailyResetAt = now.Add(r.dailyWindow)
		rec.MonthlyResetAt = now.Add(r.monthlyWindow)
		if customerRef != "" {
			rec.StripeCustomerID = customerRef
		}
		if subscriptionRef != "" {
			rec.StripeSubscriptionID = subscriptionRef
		}
		return nil
	})
	if err != nil {
		return err
	}
	if updated == nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "entitlement record vanished during activation", nil)
	}

	r.logger.InfoContext(ctx, "entitlement activated",
		slog.String("account_id", accountID),
		slog.String("plan", string(plan)),
	)
	return nil
}

// applyCancellation downgrades the record matching the provider subscription
// reference to the free tier. Counters are preserved: cancellation revokes
// the paid caps, not the usage history. An unmatched reference is a no-op —
// the event may describe a subscription never tracked locally.
func (r *Reconciler) applyCancellation(ctx context.Context, subscriptionRef string) error {
	if subscriptionRef == "" {
		return types.NewAppError(types.ErrCodeWebhookEventInvalid, "cancellation event is missing the subscription reference", nil)
	}

	updated, err := r.store.UpdateBySubscriptionRef(ctx, subscriptionRef, func(rec *types.Entitlement) error {
		rec.SubscriptionStatus = types.SubStatusCanceled
		rec.Plan = types.PlanFree
		return nil
	})
	if err != nil {
		return err
	}
	if updated == nil {
		r.logger.InfoContext(ctx, "cancellation for untracked subscription ignored",
			slog.String("subscription_ref", subscriptionRef),
		)
		return nil
	}

	r.logger.InfoContext(ctx, "entitlement downgraded after cancellation",
		slog.String("account_id", updated.AccountID),
	)
	return nil
}
