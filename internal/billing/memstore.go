package billing

import (
	"context"
	"sync"
	"time"

	"postpilot/internal/types"
)

// MemoryStore is the volatile EntitlementStore backend: a process-local map
// guarded by per-account mutual exclusion. State lives for the process
// lifetime only and is lost on restart; it is suitable for a single-instance
// deployment and for tests, and is the default backend when no database is
// configured.
//
// Concurrency: each account has its own lock, so the read-mutate-write
// sequence in Update is serialized per account while operations on distinct
// accounts proceed fully independently.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*accountSlot
}

// accountSlot pairs one entitlement record with its lock.
type accountSlot struct {
	mu  sync.Mutex
	rec types.Entitlement
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]*accountSlot),
	}
}

// Get returns a copy of the record for the account, or (nil, nil) when absent.
func (s *MemoryStore) Get(ctx context.Context, accountID string) (*types.Entitlement, error) {
	s.mu.RLock()
	slot, ok := s.slots[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.rec.Clone(), nil
}

// GetBySubscriptionRef scans for the record carrying the given provider
// subscription reference. A linear scan is acceptable for this backend: it
// only serves single-instance deployments where the map stays small.
func (s *MemoryStore) GetBySubscriptionRef(ctx context.Context, ref string) (*types.Entitlement, error) {
	if ref == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		slot.mu.Lock()
		if slot.rec.StripeSubscriptionID == ref {
			rec := slot.rec.Clone()
			slot.mu.Unlock()
			return rec, nil
		}
		slot.mu.Unlock()
	}
	return nil, nil
}

// CreateIfAbsent inserts the record unless one already exists for its account
// id, and returns a copy of the stored record either way.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, rec *types.Entitlement) (*types.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.slots[rec.AccountID]; ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.rec.Clone(), nil
	}

	stored := *rec.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.slots[rec.AccountID] = &accountSlot{rec: stored}
	return stored.Clone(), nil
}

// Update applies mutate under the account's lock. The callback receives a
// working copy of the latest stored record; a mutate error aborts with no
// mutation. Returns (nil, nil) when the record is absent.
func (s *MemoryStore) Update(ctx context.Context, accountID string, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	s.mu.RLock()
	slot, ok := s.slots[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.updateSlot(slot, mutate)
}

// UpdateBySubscriptionRef applies mutate to the record matching the provider
// subscription reference, or returns (nil, nil) when nothing matches.
func (s *MemoryStore) UpdateBySubscriptionRef(ctx context.Context, ref string, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	if ref == "" {
		return nil, nil
	}

	s.mu.RLock()
	var match *accountSlot
	for _, slot := range s.slots {
		slot.mu.Lock()
		found := slot.rec.StripeSubscriptionID == ref
		slot.mu.Unlock()
		if found {
			match = slot
			break
		}
	}
	s.mu.RUnlock()

	if match == nil {
		return nil, nil
	}

	// The scan dropped the slot lock, so a concurrent activation may have
	// moved the reference off this record. Re-verify under the lock before
	// mutating, as the durable backend's row lock re-evaluates the predicate.
	match.mu.Lock()
	defer match.mu.Unlock()
	if match.rec.StripeSubscriptionID != ref {
		return nil, nil
	}
	return applySlotLocked(match, mutate)
}

// updateSlot runs the read-mutate-write sequence under the slot lock.
func (s *MemoryStore) updateSlot(slot *accountSlot, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return applySlotLocked(slot, mutate)
}

// applySlotLocked mutates a working copy and commits it. The caller holds the
// slot lock.
func applySlotLocked(slot *accountSlot, mutate func(*types.Entitlement) error) (*types.Entitlement, error) {
	working := slot.rec.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()
	slot.rec = *working
	return working.Clone(), nil
}
