package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/schemaloom/schemaloom/domains/tenants/be/service"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// ControlCleaner removes a tenant's control-plane records (schema-of-record,
// query history) when the tenant is torn down.
type ControlCleaner struct {
	definitions *persistence.SchemaDefinitionStore
	history     *persistence.QueryHistoryStore
}

// NewControlCleaner wires the cleaner to the control-plane stores.
func NewControlCleaner(definitions *persistence.SchemaDefinitionStore, history *persistence.QueryHistoryStore) *ControlCleaner {
	if definitions == nil {
		panic("schema definition store is required")
	}
	if history == nil {
		panic("query history store is required")
	}
	return &ControlCleaner{definitions: definitions, history: history}
}

func (c *ControlCleaner) DeleteTenantRecords(ctx context.Context, tenantID uuid.UUID) error {
	if err := c.definitions.DeleteByTenant(ctx, tenantID); err != nil {
		return err
	}
	return c.history.DeleteByTenant(ctx, tenantID)
}

var _ service.ControlCleaner = (*ControlCleaner)(nil)
