package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/schemaloom/schemaloom/domains/tenants/be/provisioning"
	"github.com/schemaloom/schemaloom/domains/tenants/be/service"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements the tenant repository on the control-plane
// tenant store.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	rec, err := r.store.Create(ctx, persistence.TenantRecord{
		ID:       t.ID,
		Name:     t.Name,
		Slug:     t.Slug,
		IsActive: t.IsActive,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return service.Tenant{}, service.ErrConflictSlug
		}
		return service.Tenant{}, err
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrTenantNotFound) {
			return service.Tenant{}, service.ErrNotFound
		}
		return service.Tenant{}, err
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}

	rows, total, err := r.store.List(ctx, opts.ActiveOnly, size, (page-1)*size)
	if err != nil {
		return service.ListResult{}, err
	}

	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		tenants = append(tenants, toServiceTenant(rec))
	}

	totalPages := (total + size - 1) / size
	return service.ListResult{
		Tenants:    tenants,
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Delete(ctx, id)
}

func toServiceTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		ID:           rec.ID,
		Name:         rec.Name,
		Slug:         rec.Slug,
		IsActive:     rec.IsActive,
		DatabaseName: provisioning.DatabaseName(rec.ID),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

var _ service.Repository = (*PostgresRepository)(nil)
