package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schemaloom/schemaloom/domains/queries/be/service"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// PostgresRepository adapts the control-plane stores to the query service.
type PostgresRepository struct {
	history *persistence.QueryHistoryStore
	tenants *persistence.TenantStore
}

// NewPostgresRepository constructs the repository over the control-plane stores.
func NewPostgresRepository(history *persistence.QueryHistoryStore, tenants *persistence.TenantStore) (*PostgresRepository, error) {
	if history == nil {
		return nil, errors.New("history store is required")
	}
	if tenants == nil {
		return nil, errors.New("tenant store is required")
	}
	return &PostgresRepository{history: history, tenants: tenants}, nil
}

var _ service.Repository = (*PostgresRepository)(nil)

// TenantExists reports whether the tenant is registered in the control plane.
func (r *PostgresRepository) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	_, err := r.tenants.Get(ctx, tenantID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, persistence.ErrTenantNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup tenant: %w", err)
	}
}

// InsertHistory appends one execution record.
func (r *PostgresRepository) InsertHistory(ctx context.Context, params persistence.InsertHistoryParams) error {
	return r.history.Insert(ctx, params)
}

// ListHistory returns a filtered page of a tenant's history plus the total count.
func (r *PostgresRepository) ListHistory(ctx context.Context, tenantID uuid.UUID, filter persistence.HistoryFilter) ([]persistence.QueryHistoryRecord, int, error) {
	return r.history.List(ctx, tenantID, filter)
}

// PurgeHistoryOlderThan removes records created before the horizon.
func (r *PostgresRepository) PurgeHistoryOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	return r.history.PurgeOlderThan(ctx, horizon)
}
