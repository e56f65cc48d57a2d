package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// Errors returned by the service layer.
var (
	ErrNotFound     = errors.New("tenant not found")
	ErrConflictSlug = errors.New("tenant slug already exists")
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Tenant represents the domain model for a tenant registry entry.
type Tenant struct {
	ID           uuid.UUID
	Name         string
	Slug         string
	IsActive     bool
	DatabaseName string
	CacheNS      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateInput represents the request to register and provision a tenant.
type CreateInput struct {
	Name string
	Slug string
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page       int
	PageSize   int
	ActiveOnly bool
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts tenant registry persistence.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// StoreProvisioner provisions and tears down per-tenant databases.
type StoreProvisioner interface {
	CreateTenantStore(ctx context.Context, tenantID uuid.UUID) error
	DeleteTenantStore(ctx context.Context, tenantID uuid.UUID) error
}

// CacheProvisioner allocates cache namespaces and manages client handles.
type CacheProvisioner interface {
	Namespace(tenantID uuid.UUID) int
	Warm(ctx context.Context, tenantID uuid.UUID) error
	Release(tenantID uuid.UUID)
}

// ControlCleaner removes a tenant's control-plane records on teardown.
type ControlCleaner interface {
	DeleteTenantRecords(ctx context.Context, tenantID uuid.UUID) error
}

// Service provides tenant registry and lifecycle operations.
type Service struct {
	repo    Repository
	stores  StoreProvisioner
	cache   CacheProvisioner
	cleaner ControlCleaner
	logger  *zap.Logger
}

// New builds the tenant Service.
func New(repo Repository, stores StoreProvisioner, cache CacheProvisioner, cleaner ControlCleaner, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenant repo is required")
	}
	if stores == nil {
		panic("store provisioner is required")
	}
	if cache == nil {
		panic("cache provisioner is required")
	}
	if cleaner == nil {
		panic("control cleaner is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{repo: repo, stores: stores, cache: cache, cleaner: cleaner, logger: logger}
}

// Create registers the tenant and provisions its isolated database and cache
// namespace. When store provisioning fails the registry row is removed again
// so a retry starts clean.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	fieldErrors := FieldErrors{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		fieldErrors["name"] = append(fieldErrors["name"], "name is required")
	}

	slug, err := persistence.NormalizeSlug(input.Slug)
	if err != nil {
		fieldErrors["slug"] = append(fieldErrors["slug"], err.Error())
	}

	if len(fieldErrors) > 0 {
		return Tenant{}, &ValidationError{Fields: fieldErrors}
	}

	created, err := s.repo.Create(ctx, Tenant{
		ID:       uuid.New(),
		Name:     name,
		Slug:     slug,
		IsActive: true,
	})
	if err != nil {
		return Tenant{}, err
	}

	if err := s.stores.CreateTenantStore(ctx, created.ID); err != nil {
		if cleanupErr := s.repo.Delete(ctx, created.ID); cleanupErr != nil {
			s.logger.Error("rollback tenant registration",
				zap.String("tenant_id", created.ID.String()),
				zap.Error(cleanupErr))
		}
		return Tenant{}, fmt.Errorf("provision tenant store: %w", err)
	}

	if err := s.cache.Warm(ctx, created.ID); err != nil {
		// The cache handle reconnects lazily on first use; provisioning is
		// not failed over a cold cache.
		s.logger.Warn("warm tenant cache namespace",
			zap.String("tenant_id", created.ID.String()),
			zap.Error(err))
	}

	created.CacheNS = s.cache.Namespace(created.ID)
	return created, nil
}

// Get returns one tenant by identifier.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if id == uuid.Nil {
		return Tenant{}, ErrNotFound
	}

	tenant, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}

	tenant.CacheNS = s.cache.Namespace(tenant.ID)
	return tenant, nil
}

// List returns a page of tenants.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	result, err := s.repo.List(ctx, opts)
	if err != nil {
		return ListResult{}, err
	}

	for i := range result.Tenants {
		result.Tenants[i].CacheNS = s.cache.Namespace(result.Tenants[i].ID)
	}
	return result, nil
}

// Delete tears the tenant down: physical database, cache handle,
// control-plane records, then the registry row. Deleting a tenant that was
// never provisioned must not raise.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNotFound
	}

	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	if err := s.stores.DeleteTenantStore(ctx, id); err != nil {
		return fmt.Errorf("delete tenant store: %w", err)
	}

	s.cache.Release(id)

	if err := s.cleaner.DeleteTenantRecords(ctx, id); err != nil {
		return fmt.Errorf("delete tenant records: %w", err)
	}

	return s.repo.Delete(ctx, id)
}
