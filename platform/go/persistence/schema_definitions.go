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

// ErrDefinitionNotFound indicates no schema definition exists for the tenant.
var ErrDefinitionNotFound = errors.New("schema definition not found")

// Reconciliation states recorded on a schema definition. A definition is
// pending while its physical reconciliation runs, applied (and active) after
// a successful commit, and failed after the compensating update that follows
// a rolled-back reconciliation.
const (
	DefinitionStatusPending = "pending"
	DefinitionStatusApplied = "applied"
	DefinitionStatusFailed  = "failed"
)

// SchemaDefinitionRecord is the persisted schema-of-record for one tenant.
type SchemaDefinitionRecord struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	Description     string
	Version         int
	DSLText         string
	StructuralModel []byte
	Status          string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertDefinitionParams carries the fields written on every schema update.
type UpsertDefinitionParams struct {
	TenantID        uuid.UUID
	Name            string
	Description     string
	DSLText         string
	StructuralModel []byte
}

// SchemaDefinitionStore provides PostgreSQL-backed access to the
// schema_definitions control-plane table.
type SchemaDefinitionStore struct {
	pool *pgxpool.Pool
}

// NewSchemaDefinitionStore returns a store bound to the control-plane pool.
func NewSchemaDefinitionStore(pool *pgxpool.Pool) (*SchemaDefinitionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SchemaDefinitionStore{pool: pool}, nil
}

const definitionColumns = `
	id, tenant_id, name, description, version, dsl_text, structural_model,
	status, is_active, created_at, updated_at`

// UpsertPending creates the tenant's definition row or updates it in place,
// incrementing the version and moving the record to pending. The version is
// monotonic: it is never decremented and never reused, even when the
// reconciliation that follows fails.
func (s *SchemaDefinitionStore) UpsertPending(ctx context.Context, params UpsertDefinitionParams) (SchemaDefinitionRecord, error) {
	if params.TenantID == uuid.Nil {
		return SchemaDefinitionRecord{}, errors.New("tenant id is required")
	}
	if params.DSLText == "" {
		return SchemaDefinitionRecord{}, errors.New("dsl text is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SchemaDefinitionRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var existingID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM schema_definitions
		WHERE tenant_id = $1
		FOR UPDATE
	`, params.TenantID).Scan(&existingID)

	var row pgx.Row
	switch {
	case err == nil:
		row = tx.QueryRow(ctx, `
			UPDATE schema_definitions
			SET name = $2,
			    description = $3,
			    dsl_text = $4,
			    structural_model = $5,
			    version = version + 1,
			    status = $6,
			    is_active = FALSE,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+definitionColumns,
			existingID, params.Name, params.Description, params.DSLText,
			params.StructuralModel, DefinitionStatusPending)
	case errors.Is(err, pgx.ErrNoRows):
		row = tx.QueryRow(ctx, `
			INSERT INTO schema_definitions (
				tenant_id, name, description, dsl_text, structural_model,
				version, status, is_active
			) VALUES ($1, $2, $3, $4, $5, 1, $6, FALSE)
			RETURNING `+definitionColumns,
			params.TenantID, params.Name, params.Description, params.DSLText,
			params.StructuralModel, DefinitionStatusPending)
	default:
		return SchemaDefinitionRecord{}, fmt.Errorf("lock definition: %w", err)
	}

	record, err := scanDefinition(row)
	if err != nil {
		return SchemaDefinitionRecord{}, fmt.Errorf("upsert definition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SchemaDefinitionRecord{}, fmt.Errorf("commit: %w", err)
	}

	return record, nil
}

// MarkApplied activates the definition after a successful reconciliation.
func (s *SchemaDefinitionStore) MarkApplied(ctx context.Context, id uuid.UUID) (SchemaDefinitionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE schema_definitions
		SET status = $2, is_active = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+definitionColumns, id, DefinitionStatusApplied)

	record, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SchemaDefinitionRecord{}, ErrDefinitionNotFound
		}
		return SchemaDefinitionRecord{}, fmt.Errorf("mark definition applied: %w", err)
	}
	return record, nil
}

// MarkFailed is the compensating update after a rolled-back reconciliation:
// the definition row survives (version retained) but is neither active nor
// applied.
func (s *SchemaDefinitionStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schema_definitions
		SET status = $2, is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id, DefinitionStatusFailed)
	if err != nil {
		return fmt.Errorf("mark definition failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDefinitionNotFound
	}
	return nil
}

// GetActive returns the tenant's active definition, the schema-of-record.
func (s *SchemaDefinitionStore) GetActive(ctx context.Context, tenantID uuid.UUID) (SchemaDefinitionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM schema_definitions
		WHERE tenant_id = $1 AND is_active
	`, tenantID)

	record, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SchemaDefinitionRecord{}, ErrDefinitionNotFound
		}
		return SchemaDefinitionRecord{}, fmt.Errorf("get active definition: %w", err)
	}
	return record, nil
}

// Get returns the tenant's definition row regardless of status.
func (s *SchemaDefinitionStore) Get(ctx context.Context, tenantID uuid.UUID) (SchemaDefinitionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM schema_definitions
		WHERE tenant_id = $1
	`, tenantID)

	record, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SchemaDefinitionRecord{}, ErrDefinitionNotFound
		}
		return SchemaDefinitionRecord{}, fmt.Errorf("get definition: %w", err)
	}
	return record, nil
}

// DeleteByTenant removes the tenant's definition row; used on tenant teardown.
func (s *SchemaDefinitionStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM schema_definitions WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete definitions: %w", err)
	}
	return nil
}

func scanDefinition(row pgx.Row) (SchemaDefinitionRecord, error) {
	var rec SchemaDefinitionRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Name, &rec.Description, &rec.Version,
		&rec.DSLText, &rec.StructuralModel, &rec.Status, &rec.IsActive,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return SchemaDefinitionRecord{}, err
	}
	return rec, nil
}
