// Package types defines the shared domain model for the PostPilot backend:
// plan tiers, entitlement records, quota decisions, payment events, and the
// application error taxonomy.
package types

import "time"

// PlanTier identifies the billing plan for an account.
type PlanTier string

const (
	PlanFree      PlanTier = "free"
	PlanStarter   PlanTier = "starter"
	PlanPro       PlanTier = "pro"
	PlanUnlimited PlanTier = "unlimited"
	PlanYearly    PlanTier = "yearly"
)

// KnownPlanTiers lists every tier the platform sells. The catalog is keyed by
// this set; anything outside it is an error state handled fail-closed.
var KnownPlanTiers = []PlanTier{PlanFree, PlanStarter, PlanPro, PlanUnlimited, PlanYearly}

// Valid reports whether the tier is one of the known plan tiers.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanUnlimited, PlanYearly:
		return true
	}
	return false
}

// SubscriptionStatus represents the state of a billing subscription.
// It is informational: enforcement always goes through the plan tier.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// PlanLimits holds the usage caps for a plan tier. A nil cap means the
// corresponding window is unbounded.
type PlanLimits struct {
	DailyCap   *int `json:"daily_cap"`
	MonthlyCap *int `json:"monthly_cap"`
}

// Entitlement is the per-account usage and plan state. One record exists per
// account id; it is created lazily on the first quota check or payment event
// and never deleted. Counters roll over when their reset timestamp elapses;
// windows are fixed-length and independent of each other, not calendar-aligned.
type Entitlement struct {
	AccountID    string   `json:"account_id" db:"account_id"`
	Plan         PlanTier `json:"plan" db:"plan"`
	DailyCount   int      `json:"daily_count" db:"daily_count"`
	MonthlyCount int      `json:"monthly_count" db:"monthly_count"`

	DailyResetAt   time.Time `json:"daily_reset_at" db:"daily_reset_at"`
	MonthlyResetAt time.Time `json:"monthly_reset_at" db:"monthly_reset_at"`

	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`

	// Provider correlation refs. Empty for accounts that never purchased.
	StripeCustomerID     string `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID string `json:"-" db:"stripe_subscription_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the entitlement. The volatile store hands out
// copies so callers can never mutate shared state outside an Update.
func (e *Entitlement) Clone() *Entitlement {
	cp := *e
	return &cp
}

// RejectReason distinguishes which window exhausted when a quota check rejects.
type RejectReason string

const (
	RejectDailyLimit   RejectReason = "daily_limit"
	RejectMonthlyLimit RejectReason = "monthly_limit"
)

// QuotaDecision is the outcome of a check-and-consume call. When Admitted is
// true the remaining fields reflect post-increment counts (nil = unbounded);
// when false, Reason names the exhausted window and nothing was consumed.
type QuotaDecision struct {
	Admitted         bool         `json:"admitted"`
	Reason           RejectReason `json:"reason,omitempty"`
	RemainingDaily   *int         `json:"remaining_daily"`
	RemainingMonthly *int         `json:"remaining_monthly"`
}

// UsageSnapshot is a read-only projection of an account's current usage.
// Producing one never consumes quota and never advances reset windows.
type UsageSnapshot struct {
	Plan         PlanTier `json:"plan"`
	DailyUsed    int      `json:"daily_used"`
	MonthlyUsed  int      `json:"monthly_used"`
	DailyLimit   *int     `json:"daily_limit"`
	MonthlyLimit *int     `json:"monthly_limit"`
}

// IntPtr returns a pointer to v. Convenience for building PlanLimits literals.
func IntPtr(v int) *int {
	return &v
}
