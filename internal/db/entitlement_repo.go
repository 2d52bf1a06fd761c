package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"postpilot/internal/types"
)

// entitlementColumns is the canonical column list used by every SELECT so the
// scan order stays in one place.
const entitlementColumns = `account_id, plan, daily_count, monthly_count,
	daily_reset_at, monthly_reset_at, subscription_status,
	stripe_customer_id, stripe_subscription_id, created_at, updated_at`

// EntitlementRepo is the durable EntitlementStore backend. Concurrent updates
// to the same account are serialized with row-level locking: Update runs
// SELECT ... FOR UPDATE inside a transaction, applies the mutation callback
// to the freshly read row, and writes it back before committing. That gives
// the read-modify-write atomicity the quota meter and reconciler rely on.
type EntitlementRepo struct {
	db     DB
	logger *slog.Logger
}

// NewEntitlementRepo creates a repo backed by the given database.
func NewEntitlementRepo(db DB, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

// Get returns the record for the account, or (nil, nil) when absent.
func (r *EntitlementRepo) Get(ctx context.Context, accountID string) (*types.Entitlement, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE account_id = $1`,
		accountID,
	)
	return r.scanOne(row)
}

// GetBySubscriptionRef resolves a record through the secondary index on
// stripe_subscription_id, or (nil, nil) when no record matches.
func (r *EntitlementRepo) GetBySubscriptionRef(ctx context.Context, ref string) (*types.Entitlement, error) {
	if ref == "" {
		return nil, nil
	}
	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE stripe_subscription_id = $1`,
		ref,
	)
	return r.scanOne(row)
}

// CreateIfAbsent inserts the record unless the account already has one, then
// returns the stored record either way. ON CONFLICT DO NOTHING makes creation
// an upsert that can never duplicate an account.
func (r *EntitlementRepo) CreateIfAbsent(ctx context.Context, rec *types.Entitlement) (*types.Entitlement, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (
			account_id, plan, daily_count, monthly_count,
			daily_reset_at, monthly_reset_at, subscription_status,
			stripe_customer_id, stripe_subscription_id
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (account_id) DO NOTHING`,
		rec.AccountID,
		rec.Plan,
		rec.DailyCount,
		rec.MonthlyCount,
		rec.DailyResetAt,
		rec.MonthlyResetAt,
		rec.SubscriptionStatus,
		rec.StripeCustomerID,
		rec.StripeSubscriptionID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create entitlement", err)
	}

	stored, err := r.Get(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "entitlement missing after upsert-create", nil)
	}
	return stored, nil
}

// Update applies mutate as an atomic read-modify-write keyed by account id.
func (r *EntitlementRepo) Update(ctx context.Context, accountID string, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	return r.updateWhere(ctx, `account_id = $1`, accountID, mutate)
}

// UpdateBySubscriptionRef applies mutate to the record matching the provider
// subscription reference, or returns (nil, nil) when nothing matches.
func (r *EntitlementRepo) UpdateBySubscriptionRef(ctx context.Context, ref string, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	if ref == "" {
		return nil, nil
	}
	return r.updateWhere(ctx, `stripe_subscription_id = $1`, ref, mutate)
}

// updateWhere runs the locked read-modify-write cycle for the row selected by
// the given predicate. A mutate error aborts the transaction and is returned
// verbatim; (nil, nil) means no row matched.
func (r *EntitlementRepo) updateWhere(ctx context.Context, where string, arg any, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin entitlement update", err)
	}
	// Rollback is a no-op after a successful commit.
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE `+where+` FOR UPDATE`,
		arg,
	)
	rec, err := r.scanOne(row)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if err := mutate(rec); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE entitlements SET
			plan = $2,
			daily_count = $3,
			monthly_count = $4,
			daily_reset_at = $5,
			monthly_reset_at = $6,
			subscription_status = $7,
			stripe_customer_id = $8,
			stripe_subscription_id = $9,
			updated_at = NOW()
		 WHERE account_id = $1`,
		rec.AccountID,
		rec.Plan,
		rec.DailyCount,
		rec.MonthlyCount,
		rec.DailyResetAt,
		rec.MonthlyResetAt,
		rec.SubscriptionStatus,
		rec.StripeCustomerID,
		rec.StripeSubscriptionID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to write entitlement update", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit entitlement update", err)
	}
	return rec, nil
}

// scanOne scans a single entitlement row, translating pgx.ErrNoRows into the
// (nil, nil) absent contract.
func (r *EntitlementRepo) scanOne(row pgx.Row) (*types.Entitlement, error) {
	var rec types.Entitlement
	err := row.Scan(
		&rec.AccountID,
		&rec.Plan,
		&rec.DailyCount,
		&rec.MonthlyCount,
		&rec.DailyResetAt,
		&rec.MonthlyResetAt,
		&rec.SubscriptionStatus,
		&rec.StripeCustomerID,
		&rec.StripeSubscriptionID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan entitlement row", err)
	}
	return &rec, nil
}
