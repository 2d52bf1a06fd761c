package db

import (
	"context"
	"fmt"
)

// HealthProbe reports database reachability for the health endpoint.
type HealthProbe struct {
	db DBTX
}

// NewHealthProbe creates a probe over the given database handle.
func NewHealthProbe(db DBTX) *HealthProbe {
	return &HealthProbe{db: db}
}

// Name identifies the probe in health check responses.
func (p *HealthProbe) Name() string { return "database" }

// Check round-trips a trivial query to verify connectivity.
func (p *HealthProbe) Check(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}
