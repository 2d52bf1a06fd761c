// Package billing implements the usage-metering and entitlement core: the
// plan catalog, the quota meter, and the payment-event reconciler.
package billing

import "postpilot/internal/types"

// PlanCatalog defines the authoritative usage limits for each plan tier.
// This is the single source of truth for what each plan allows.
type PlanCatalog interface {
	// Limits returns the caps for the given plan tier and whether the tier
	// is known. Callers MUST treat an unknown tier as an error state and
	// fail closed (reject admission); a record referencing a tier absent
	// from the catalog is a data inconsistency, never silently unbounded.
	Limits(tier types.PlanTier) (types.PlanLimits, bool)
}

// staticPlanCatalog is a compile-time catalog backed by an in-memory map.
// It implements PlanCatalog and is the standard production implementation.
type staticPlanCatalog struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded plan caps. A nil cap means the window is
// unbounded; every plan keeps both counters running regardless so a later
// downgrade sees accurate historical usage.
//
//	| Plan      | Daily | Monthly |
//	|-----------|-------|---------|
//	| Free      | 3     | —       |
//	| Starter   | —     | 300     |
//	| Pro       | —     | 700     |
//	| Unlimited | —     | —       |
//	| Yearly    | —     | —       |
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		DailyCap:   types.IntPtr(3),
		MonthlyCap: nil,
	},
	types.PlanStarter: {
		DailyCap:   nil,
		MonthlyCap: types.IntPtr(300),
	},
	types.PlanPro: {
		DailyCap:   nil,
		MonthlyCap: types.IntPtr(700),
	},
	types.PlanUnlimited: {
		DailyCap:   nil,
		MonthlyCap: nil,
	},
	types.PlanYearly: {
		DailyCap:   nil,
		MonthlyCap: nil,
	},
}

// NewStaticPlanCatalog returns a PlanCatalog backed by the hardcoded plan
// caps. No database or external service is required.
func NewStaticPlanCatalog() PlanCatalog {
	// Copy the defaults so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanCatalog{limits: m}
}

// Limits returns the caps for the given plan tier. The second return value is
// false for tiers absent from the catalog; enforcement must then reject.
func (c *staticPlanCatalog) Limits(tier types.PlanTier) (types.PlanLimits, bool) {
	limits, ok := c.limits[tier]
	return limits, ok
}
