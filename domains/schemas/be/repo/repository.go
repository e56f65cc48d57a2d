package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/schemaloom/schemaloom/domains/schemas/be/service"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// PostgresRepository adapts the control-plane stores to the schema service.
type PostgresRepository struct {
	definitions *persistence.SchemaDefinitionStore
	tenants     *persistence.TenantStore
}

// NewPostgresRepository constructs the repository over the control-plane stores.
func NewPostgresRepository(definitions *persistence.SchemaDefinitionStore, tenants *persistence.TenantStore) (*PostgresRepository, error) {
	if definitions == nil {
		return nil, errors.New("definition store is required")
	}
	if tenants == nil {
		return nil, errors.New("tenant store is required")
	}
	return &PostgresRepository{definitions: definitions, tenants: tenants}, nil
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

// UpsertPending writes the next pending definition version for the tenant.
func (r *PostgresRepository) UpsertPending(ctx context.Context, input service.UpdateInput, tenantID uuid.UUID, structuralModel []byte) (service.Definition, error) {
	record, err := r.definitions.UpsertPending(ctx, persistence.UpsertDefinitionParams{
		TenantID:        tenantID,
		Name:            input.Name,
		Description:     input.Description,
		DSLText:         input.Code,
		StructuralModel: structuralModel,
	})
	if err != nil {
		return service.Definition{}, err
	}
	return toServiceDefinition(record), nil
}

// MarkApplied activates the definition after a committed rebuild.
func (r *PostgresRepository) MarkApplied(ctx context.Context, definitionID uuid.UUID) (service.Definition, error) {
	record, err := r.definitions.MarkApplied(ctx, definitionID)
	if err != nil {
		return service.Definition{}, mapDefinitionError(err)
	}
	return toServiceDefinition(record), nil
}

// MarkFailed records the compensating update after a rolled-back rebuild.
func (r *PostgresRepository) MarkFailed(ctx context.Context, definitionID uuid.UUID) error {
	if err := r.definitions.MarkFailed(ctx, definitionID); err != nil {
		return mapDefinitionError(err)
	}
	return nil
}

// GetActive returns the tenant's active definition.
func (r *PostgresRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (service.Definition, error) {
	record, err := r.definitions.GetActive(ctx, tenantID)
	if err != nil {
		return service.Definition{}, mapDefinitionError(err)
	}
	return toServiceDefinition(record), nil
}

func mapDefinitionError(err error) error {
	if errors.Is(err, persistence.ErrDefinitionNotFound) {
		return service.ErrDefinitionNotFound
	}
	return err
}

func toServiceDefinition(record persistence.SchemaDefinitionRecord) service.Definition {
	return service.Definition{
		ID:          record.ID,
		TenantID:    record.TenantID,
		Name:        record.Name,
		Description: record.Description,
		Version:     record.Version,
		DSLText:     record.DSLText,
		Status:      record.Status,
		IsActive:    record.IsActive,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}
