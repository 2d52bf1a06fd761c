package db

import (
	"context"
	"fmt"
)

// schema is the entitlements table DDL. It is applied idempotently at
// startup; the table mirrors types.Entitlement field for field, with a unique
// key on account_id and a secondary lookup index on stripe_subscription_id
// for cancellation events that carry only the provider reference.
const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
    account_id            TEXT PRIMARY KEY,
    plan                  TEXT NOT NULL DEFAULT 'free',
    daily_count           INTEGER NOT NULL DEFAULT 0 CHECK (daily_count >= 0),
    monthly_count         INTEGER NOT NULL DEFAULT 0 CHECK (monthly_count >= 0),
    daily_reset_at        TIMESTAMPTZ NOT NULL,
    monthly_reset_at      TIMESTAMPTZ NOT NULL,
    subscription_status   TEXT NOT NULL DEFAULT 'active',
    stripe_customer_id    TEXT NOT NULL DEFAULT '',
    stripe_subscription_id TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitlements_stripe_subscription_id
    ON entitlements (stripe_subscription_id)
    WHERE stripe_subscription_id <> '';
`

// EnsureSchema applies the entitlements DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying entitlements schema: %w", err)
	}
	return nil
}
