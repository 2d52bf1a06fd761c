package billing

import (
	"context"

	"postpilot/internal/types"
)

// EntitlementStore is the backing store for entitlement records. The meter
// and the reconciler are the only writers; all mutation goes through the
// atomic Update contract.
//
// Two conformant backends exist: the volatile MemoryStore in this package
// (per-account mutual exclusion, process lifetime) and the durable
// db.EntitlementRepo (row-level locking). Both must satisfy identical
// external semantics; everything above this interface is agnostic to which
// is wired.
type EntitlementStore interface {
	// Get returns the record for the account, or (nil, nil) when absent.
	Get(ctx context.Context, accountID string) (*types.Entitlement, error)

	// GetBySubscriptionRef resolves a record through the provider
	// subscription reference, or (nil, nil) when no record matches.
	GetBySubscriptionRef(ctx context.Context, ref string) (*types.Entitlement, error)

	// CreateIfAbsent inserts the record unless one already exists for its
	// account id, and returns the stored record either way. Creation is
	// upsert, never duplicated.
	CreateIfAbsent(ctx context.Context, rec *types.Entitlement) (*types.Entitlement, error)

	// Update applies mutate as an atomic read-modify-write against the
	// current stored values: the callback sees the latest persisted record,
	// and no concurrent Update or CheckAndConsume for the same account can
	// interleave with the read-mutate-write sequence. A non-nil error from
	// mutate aborts the update with no mutation and is returned verbatim.
	// Returns (nil, nil) when the record is absent.
	Update(ctx context.Context, accountID string, mutate func(*types.Entitlement) error) (*types.Entitlement, error)

	// UpdateBySubscriptionRef is Update keyed by the provider subscription
	// reference. Returns (nil, nil) when no record matches the reference.
	UpdateBySubscriptionRef(ctx context.Context, ref string, mutate func(*types.Entitlement) error) (*types.Entitlement, error)
}
