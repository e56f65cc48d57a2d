package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/domains/schemas/be/repo"
	"github.com/schemaloom/schemaloom/domains/schemas/be/service"
	"github.com/schemaloom/schemaloom/domains/tenants/be/provisioning"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

const twoTableDSL = `
table customers {
  id uuid [pk]
  email string [unique]
  created_at timestamp
  updated_at timestamp
}

table orders {
  id uuid [pk]
  customer_id uuid [not null]
  total decimal(10,2)
}

orders.customer_id > customers.id
`

// unavailableCaches stands in for a cache layer that is down; the service
// tolerates it and serves uncached.
type unavailableCaches struct{}

func (unavailableCaches) Client(context.Context, uuid.UUID) (*redis.Client, error) {
	return nil, context.Canceled
}

type reconcileStack struct {
	svc    *service.Service
	repo   *repo.PostgresRepository
	stores *provisioning.StoreProvisioner
	tenant uuid.UUID
}

func startReconcileStack(t *testing.T) (context.Context, reconcileStack) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping reconciliation integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("schemaloom"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		persistence.ClosePool(pool)
	})

	require.NoError(t, persistence.BootstrapControlSchema(ctx, pool))

	tenantStore, err := persistence.NewTenantStore(pool)
	require.NoError(t, err)
	definitionStore, err := persistence.NewSchemaDefinitionStore(pool)
	require.NoError(t, err)

	tenant, err := tenantStore.Create(ctx, persistence.TenantRecord{
		ID:       uuid.New(),
		Name:     "Acme Corp",
		Slug:     "acme-corp",
		IsActive: true,
	})
	require.NoError(t, err)

	stores, err := provisioning.NewStoreProvisioner(pool, connString, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(stores.CloseAll)
	require.NoError(t, stores.CreateTenantStore(ctx, tenant.ID))

	schemaRepo, err := repo.NewPostgresRepository(definitionStore, tenantStore)
	require.NoError(t, err)

	svc := service.NewService(schemaRepo, stores, unavailableCaches{}, zap.NewNop())
	return ctx, reconcileStack{
		svc:    svc,
		repo:   schemaRepo,
		stores: stores,
		tenant: tenant.ID,
	}
}

func tenantTables(ctx context.Context, t *testing.T, stores *provisioning.StoreProvisioner, tenantID uuid.UUID) []string {
	t.Helper()

	pool, err := stores.Pool(ctx, tenantID)
	require.NoError(t, err)

	rows, err := pool.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`)
	require.NoError(t, err)
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	return tables
}

func TestReconcileIntegration(t *testing.T) {
	t.Parallel()

	ctx, stack := startReconcileStack(t)
	svc, stores, tenantID := stack.svc, stack.stores, stack.tenant

	t.Run("fresh tenant overview is introspected and empty", func(t *testing.T) {
		overview, err := svc.Overview(ctx, tenantID)
		require.NoError(t, err)
		require.True(t, overview.Introspected)
		require.Zero(t, overview.TotalTables)
		require.Empty(t, overview.SavedCode)
	})

	var orderRowInserted bool

	t.Run("first update builds both tables", func(t *testing.T) {
		result, err := svc.Update(ctx, tenantID, service.UpdateInput{Name: "Main", Code: twoTableDSL})
		require.NoError(t, err)
		require.Equal(t, 1, result.Definition.Version)
		require.Equal(t, "applied", result.Definition.Status)
		require.True(t, result.Definition.IsActive)
		require.Equal(t, 2, result.TablesCreated)
		require.Zero(t, result.ConstraintFailures)

		require.Equal(t, []string{"customers", "orders"}, tenantTables(ctx, t, stores, tenantID))

		pool, err := stores.Pool(ctx, tenantID)
		require.NoError(t, err)

		// The uuid primary key defaults to gen_random_uuid and the trigger
		// stamps updated_at.
		var id uuid.UUID
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO customers (email) VALUES ('a@example.com') RETURNING id`).Scan(&id))
		require.NotEqual(t, uuid.Nil, id)

		// The compiled foreign key rejects orphan rows.
		_, err = pool.Exec(ctx,
			`INSERT INTO orders (id, customer_id, total) VALUES (gen_random_uuid(), gen_random_uuid(), 10)`)
		require.Error(t, err)

		_, err = pool.Exec(ctx,
			`INSERT INTO orders (id, customer_id, total) VALUES (gen_random_uuid(), $1, 10)`, id)
		require.NoError(t, err)
		orderRowInserted = true
	})

	t.Run("overview reflects the saved definition", func(t *testing.T) {
		overview, err := svc.Overview(ctx, tenantID)
		require.NoError(t, err)
		require.False(t, overview.Introspected)
		require.Equal(t, "Main", overview.SchemaName)
		require.Equal(t, twoTableDSL, overview.SavedCode)
		require.Equal(t, 1, overview.Version)
		require.Equal(t, 2, overview.TotalTables)
		require.Len(t, overview.Model.Relationships, 1)
	})

	t.Run("second update drops and rebuilds", func(t *testing.T) {
		require.True(t, orderRowInserted)

		result, err := svc.Update(ctx, tenantID, service.UpdateInput{
			Name: "Main",
			Code: "table customers {\n  id uuid [pk]\n  full_name string\n}\n",
		})
		require.NoError(t, err)
		require.Equal(t, 2, result.Definition.Version)
		require.Equal(t, 1, result.TablesCreated)

		require.Equal(t, []string{"customers"}, tenantTables(ctx, t, stores, tenantID))

		pool, err := stores.Pool(ctx, tenantID)
		require.NoError(t, err)

		// Rebuild starts from a clean slate.
		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&count))
		require.Zero(t, count)
	})

	t.Run("failed rebuild rolls back and keeps the version burned", func(t *testing.T) {
		// Duplicate table names compile to two CREATEs for the same name; the
		// second one fails and the transaction rolls back.
		_, err := svc.Update(ctx, tenantID, service.UpdateInput{
			Name: "Main",
			Code: "table dupes { id int [pk] }\ntable dupes { id int [pk] }\n",
		})
		require.ErrorIs(t, err, service.ErrReconcileFailed)

		// The store still holds the last committed layout.
		require.Equal(t, []string{"customers"}, tenantTables(ctx, t, stores, tenantID))

		// No active definition survives the failure, and the next accepted
		// update does not reuse the burned version.
		_, err = stack.repo.GetActive(ctx, tenantID)
		require.ErrorIs(t, err, service.ErrDefinitionNotFound)

		result, err := svc.Update(ctx, tenantID, service.UpdateInput{
			Name: "Main",
			Code: "table customers {\n  id uuid [pk]\n}\n",
		})
		require.NoError(t, err)
		require.Equal(t, 4, result.Definition.Version)
	})
}
