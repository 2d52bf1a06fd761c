package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postpilot/internal/types"
)

// Default rolling window lengths. Windows are fixed-length and relative to
// the moment the previous window expired, never calendar-aligned; this keeps
// reset arithmetic timezone-free.
const (
	DefaultDailyWindow   = 24 * time.Hour
	DefaultMonthlyWindow = 30 * 24 * time.Hour
)

// MeterConfig tunes the quota meter's window lengths. Zero values fall back
// to the defaults.
type MeterConfig struct {
	DailyWindow   time.Duration
	MonthlyWindow time.Duration
}

// Meter is the quota tracker: it decides admit/reject for one metered unit of
// generation work and owns the reset-window logic. All state access goes
// through the EntitlementStore's atomic update contract, so the whole
// fetch → reset-check → limit-check → increment sequence behaves as if atomic
// per account.
type Meter struct {
	store   EntitlementStore
	catalog PlanCatalog
	logger  *slog.Logger

	dailyWindow   time.Duration
	monthlyWindow time.Duration

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewMeter creates a quota meter over the given store and plan catalog.
func NewMeter(store EntitlementStore, catalog PlanCatalog, cfg MeterConfig, logger *slog.Logger) *Meter {
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
	return &Meter{
		store:         store,
		catalog:       catalog,
		logger:        logger,
		dailyWindow:   daily,
		monthlyWindow: monthly,
		now:           time.Now,
	}
}

// CheckAndConsume atomically decides whether the account may perform one more
// generation and, on admission, consumes one unit from both windows.
//
// The record's stored plan tier is authoritative: the asserted tier only
// seeds a first-time record, so a caller can never escalate its own quota by
// asserting a higher tier than it paid for. Admission is consumed at decision
// time — a downstream generation failure does not refund the unit.
//
// A (decision, nil) return with decision.Admitted == false is an expected
// outcome, not an error. Errors are reserved for store failures and catalog
// inconsistencies, both of which fail closed.
func (m *Meter) CheckAndConsume(ctx context.Context, accountID string, asserted types.PlanTier) (*types.QuotaDecision, error) {
	if accountID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "account id is required", nil)
	}

	now := m.now().UTC()
	if _, err := m.store.CreateIfAbsent(ctx, m.defaultRecord(accountID, asserted, now)); err != nil {
		return nil, err
	}

	var decision types.QuotaDecision
	updated, err := m.store.Update(ctx, accountID, func(rec *types.Entitlement) error {
		// Each window resets independently of the other. Resets persist
		// even when the call is ultimately rejected; only the counter
		// increment is withheld on rejection.
		if now.After(rec.DailyResetAt) {
			rec.DailyCount = 0
			rec.DailyResetAt = now.Add(m.dailyWindow)
		}
		if now.After(rec.MonthlyResetAt) {
			rec.MonthlyCount = 0
			rec.MonthlyResetAt = now.Add(m.monthlyWindow)
		}

		limits, ok := m.catalog.Limits(rec.Plan)
		if !ok {
			// Fail closed: a stored tier with no catalog entry rejects
			// everything and surfaces an operational alert, never
			// silently unbounded.
			m.logger.Error("entitlement references unknown plan tier",
				slog.String("account_id", rec.AccountID),
				slog.String("plan", string(rec.Plan)),
			)
			return types.NewAppError(
				types.ErrCodeUnknownPlanTier,
				fmt.Sprintf("plan tier %q has no catalog entry", rec.Plan),
				nil,
			)
		}

		if limits.DailyCap != nil && rec.DailyCount >= *limits.DailyCap {
			decision = types.QuotaDecision{Admitted: false, Reason: types.RejectDailyLimit}
			return nil
		}
		if limits.MonthlyCap != nil && rec.MonthlyCount >= *limits.MonthlyCap {
			decision = types.QuotaDecision{Admitted: false, Reason: types.RejectMonthlyLimit}
			return nil
		}

		rec.DailyCount++
		rec.MonthlyCount++
		decision = types.QuotaDecision{
			Admitted:         true,
			RemainingDaily:   remaining(limits.DailyCap, rec.DailyCount),
			RemainingMonthly: remaining(limits.MonthlyCap, rec.MonthlyCount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// The record was just upserted; absence here means the store
		// violated its contract.
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "entitlement record vanished during update", nil)
	}

	return &decision, nil
}

// Snapshot returns a read-only projection of the account's current usage.
// It never consumes quota and never advances reset windows. For an account
// with no record yet, it returns zeros against the asserted plan's limits.
func (m *Meter) Snapshot(ctx context.Context, accountID string, asserted types.PlanTier) (*types.UsageSnapshot, error) {
	if accountID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "account id is required", nil)
	}

	rec, err := m.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		tier := asserted
		if !tier.Valid() {
			tier = types.PlanFree
		}
		limits, _ := m.catalog.Limits(tier)
		return &types.UsageSnapshot{
			Plan:         tier,
			DailyLimit:   limits.DailyCap,
			MonthlyLimit: limits.MonthlyCap,
		}, nil
	}

	limits, ok := m.catalog.Limits(rec.Plan)
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeUnknownPlanTier,
			fmt.Sprintf("plan tier %q has no catalog entry", rec.Plan),
			nil,
		)
	}

	return &types.UsageSnapshot{
		Plan:         rec.Plan,
		DailyUsed:    rec.DailyCount,
		MonthlyUsed:  rec.MonthlyCount,
		DailyLimit:   limits.DailyCap,
		MonthlyLimit: limits.MonthlyCap,
	}, nil
}

// defaultRecord builds the lazily-created entitlement for a first-time
// account. The asserted tier is only trusted here, and only when it names a
// known tier; anything else bootstraps as free.
func (m *Meter) defaultRecord(accountID string, asserted types.PlanTier, now time.Time) *types.Entitlement {
	tier := asserted
	if !tier.Valid() {
		tier = types.PlanFree
	}
	return &types.Entitlement{
		AccountID:          accountID,
		Plan:               tier,
		SubscriptionStatus: types.SubStatusActive,
		DailyResetAt:       now.Add(m.dailyWindow),
		MonthlyResetAt:     now.Add(m.monthlyWindow),
	}
}

// remaining computes cap − count, or nil when the window is unbounded.
func remaining(limit *int, count int) *int {
	if limit == nil {
		return nil
	}
	left := *limit - count
	if left < 0 {
		left = 0
	}
	return &left
}
