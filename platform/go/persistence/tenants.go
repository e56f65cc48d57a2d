package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTenantNotFound indicates the requested tenant does not exist.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantRecord is one control-plane tenant registry row.
type TenantRecord struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantStore provides PostgreSQL-backed access to the tenants table.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore returns a store bound to the control-plane pool.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

const tenantColumns = `id, name, slug, is_active, created_at, updated_at`

// Create inserts a tenant row. Unique-slug violations surface as pgconn
// errors for the caller to translate.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING `+tenantColumns, rec.ID, rec.Name, rec.Slug, rec.IsActive)

	created, err := scanTenant(row)
	if err != nil {
		return TenantRecord{}, fmt.Errorf("create tenant: %w", err)
	}
	return created, nil
}

// Get returns the tenant with the given identifier.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	rec, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrTenantNotFound
		}
		return TenantRecord{}, fmt.Errorf("get tenant: %w", err)
	}
	return rec, nil
}

// GetBySlug returns the tenant with the given slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	rec, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrTenantNotFound
		}
		return TenantRecord{}, fmt.Errorf("get tenant by slug: %w", err)
	}
	return rec, nil
}

// List returns one page of tenants plus the total row count.
func (s *TenantStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]TenantRecord, int, error) {
	where := ""
	if activeOnly {
		where = "WHERE is_active"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tenants "+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM tenants %s
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, tenantColumns, where), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	records := make([]TenantRecord, 0, limit)
	for rows.Next() {
		var rec TenantRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Slug, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan tenant: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tenants: %w", err)
	}

	return records, total, nil
}

// Delete removes the tenant row. Deleting an absent tenant is not an error.
func (s *TenantStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return nil
}

func scanTenant(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Slug, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return TenantRecord{}, err
	}
	return rec, nil
}
