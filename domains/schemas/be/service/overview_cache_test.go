package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/domains/tenants/be/provisioning"
)

// namespacedCaches hands out clients the way the cache provisioner does: one
// redis DB per tenant, selected by the shared namespace hash.
type namespacedCaches struct {
	addr string
}

func (c namespacedCaches) Client(_ context.Context, tenantID uuid.UUID) (*redis.Client, error) {
	return redis.NewClient(&redis.Options{
		Addr: c.addr,
		DB:   provisioning.NamespaceFor(tenantID.String(), provisioning.DefaultNamespaceCount),
	}), nil
}

// collidingTenants returns two distinct tenant ids that hash onto the same
// cache namespace. With 15 usable namespaces a collision is guaranteed within
// 16 draws.
func collidingTenants(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()

	seen := map[int]uuid.UUID{}
	for i := 0; i < 64; i++ {
		id := uuid.New()
		ns := provisioning.NamespaceFor(id.String(), provisioning.DefaultNamespaceCount)
		if other, ok := seen[ns]; ok {
			return other, id
		}
		seen[ns] = id
	}
	t.Fatal("no namespace collision found")
	return uuid.Nil, uuid.Nil
}

func TestOverviewCacheIsScopedPerTenant(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	tenantA, tenantB := collidingTenants(t)

	svc := NewService(newFakeSchemaRepo(tenantA, tenantB), nilPools{},
		namespacedCaches{addr: mr.Addr()}, zap.NewNop())

	ctx := context.Background()
	svc.storeOverview(ctx, tenantA, Overview{
		SavedCode:   "table invoices { id uuid [pk] }",
		TotalTables: 1,
	})

	_, hit := svc.cachedOverview(ctx, tenantB)
	require.False(t, hit, "a tenant sharing the namespace must not see another tenant's overview")

	cached, hit := svc.cachedOverview(ctx, tenantA)
	require.True(t, hit)
	require.Equal(t, "table invoices { id uuid [pk] }", cached.SavedCode)
	require.Equal(t, 1, cached.TotalTables)
}

func TestOverviewCacheInvalidationIsScopedPerTenant(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	tenantA, tenantB := collidingTenants(t)

	svc := NewService(newFakeSchemaRepo(tenantA, tenantB), nilPools{},
		namespacedCaches{addr: mr.Addr()}, zap.NewNop())

	ctx := context.Background()
	svc.storeOverview(ctx, tenantA, Overview{SavedCode: "table a { id int [pk] }"})
	svc.storeOverview(ctx, tenantB, Overview{SavedCode: "table b { id int [pk] }"})

	svc.invalidateOverview(ctx, tenantB)

	_, hit := svc.cachedOverview(ctx, tenantB)
	require.False(t, hit)

	cached, hit := svc.cachedOverview(ctx, tenantA)
	require.True(t, hit, "invalidating one tenant must not evict its neighbors")
	require.Equal(t, "table a { id int [pk] }", cached.SavedCode)
}
