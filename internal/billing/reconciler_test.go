package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/types"
)

func newTestReconciler(t *testing.T) (*Reconciler, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	r := NewReconciler(store, NewStaticPlanCatalog(), MeterConfig{}, nil)
	return r, store
}

func TestApply_SubscriptionActivated_CreatesRecord(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	err := r.Apply(ctx, types.SubscriptionActivated{
		AccountID:       "acct_1",
		Plan:            types.PlanPro,
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "acct_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.PlanPro, rec.Plan)
	assert.Equal(t, types.SubStatusActive, rec.SubscriptionStatus)
	assert.Equal(t, "cus_1", rec.StripeCustomerID)
	assert.Equal(t, "sub_1", rec.StripeSubscriptionID)
	assert.Equal(t, 0, rec.DailyCount)
	assert.Equal(t, 0, rec.MonthlyCount)
}

func TestApply_SubscriptionActivated_ResetsCounters(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	// Simulate pre-upgrade usage on the free tier.
	meter := NewMeter(store, NewStaticPlanCatalog(), MeterConfig{}, nil)
	for i := 0; i < 3; i++ {
		dec, err := meter.CheckAndConsume(ctx, "acct_1", types.PlanFree)
		require.NoError(t, err)
		require.True(t, dec.Admitted)
	}

	err := r.Apply(ctx, types.SubscriptionActivated{
		AccountID:       "acct_1",
		Plan:            types.PlanStarter,
		SubscriptionRef: "sub_1",
	})
	require.NoError(t, err)

	// The upgrade grants a fresh window: the user is not still capped by
	// pre-upgrade usage.
	rec, err := store.Get(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStarter, rec.Plan)
	assert.Equal(t, 0, rec.DailyCount)
	assert.Equal(t, 0, rec.MonthlyCount)

	dec, err := meter.CheckAndConsume(ctx, "acct_1", types.PlanFree)
	require.NoError(t, err)
	assert.True(t, dec.Admitted, "post-upgrade call must use the new plan's limits")
}

func TestApply_SubscriptionActivated_Idempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	ev := types.SubscriptionActivated{
		AccountID:       "u1",
		Plan:            types.PlanPro,
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
	}
	require.NoError(t, r.Apply(ctx, ev))

	first, err := store.Get(ctx, "u1")
	require.NoError(t, err)

	// At-least-once delivery: the replay must leave the record in the same
	// state as the first application.
	require.NoError(t, r.Apply(ctx, ev))

	second, err := store.Get(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, first.DailyCount, second.DailyCount)
	assert.Equal(t, first.MonthlyCount, second.MonthlyCount)
	assert.Equal(t, first.SubscriptionStatus, second.SubscriptionStatus)
	assert.Equal(t, first.StripeCustomerID, second.StripeCustomerID)
	assert.Equal(t, first.StripeSubscriptionID, second.StripeSubscriptionID)
}

func TestApply_SubscriptionCanceled_Downgrades(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Apply(ctx, types.SubscriptionActivated{
		AccountID:       "acct_1",
		Plan:            types.PlanPro,
		SubscriptionRef: "sub_1",
	}))

	// Record some usage so we can verify counters survive the downgrade.
	_, err := store.Update(ctx, "acct_1", func(rec *types.Entitlement) error {
		rec.DailyCount = 5
		rec.MonthlyCount = 42
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.Apply(ctx, types.SubscriptionCanceled{SubscriptionRef: "sub_1"}))

	rec, err := store.Get(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, rec.Plan)
	assert.Equal(t, types.SubStatusCanceled, rec.SubscriptionStatus)
	assert.Equal(t, 5, rec.DailyCount, "cancellation preserves counters")
	assert.Equal(t, 42, rec.MonthlyCount)
}

func TestApply_SubscriptionCanceled_UnmatchedRefIsNoOp(t *testing.T) {
	r, _ := newTestReconciler(t)

	// The event may describe a subscription never tracked locally; that is
	// a successful no-op, not an error.
	err := r.Apply(context.Background(), types.SubscriptionCanceled{SubscriptionRef: "sub_ghost"})
	require.NoError(t, err)
}

func TestApply_AlternatePaymentCompleted(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	err := r.Apply(ctx, types.AlternatePaymentCompleted{
		AccountID: "acct_1",
		Plan:      types.PlanUnlimited,
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "acct_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.PlanUnlimited, rec.Plan)
	assert.Equal(t, types.SubStatusActive, rec.SubscriptionStatus)
	assert.Empty(t, rec.StripeSubscriptionID, "crypto rail carries no provider refs")
}

func TestApply_ValidationFailures(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event types.PaymentEvent
	}{
		{"missing account id", types.SubscriptionActivated{Plan: types.PlanPro}},
		{"unknown plan tier", types.SubscriptionActivated{AccountID: "acct_1", Plan: types.PlanTier("platinum")}},
		{"missing subscription ref", types.SubscriptionCanceled{}},
		{"alternate missing account", types.AlternatePaymentCompleted{Plan: types.PlanPro}},
		{"alternate unknown tier", types.AlternatePaymentCompleted{AccountID: "acct_1", Plan: types.PlanTier("nope")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Apply(ctx, tt.event)
			require.Error(t, err)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeWebhookEventInvalid, appErr.Code)
		})
	}

	// None of the rejected events may have mutated state.
	rec, err := store.Get(ctx, "acct_1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
