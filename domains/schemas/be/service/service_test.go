package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSchemaRepo struct {
	known       map[uuid.UUID]bool
	definitions map[uuid.UUID]Definition
	upserts     int
	failed      []uuid.UUID
}

func newFakeSchemaRepo(known ...uuid.UUID) *fakeSchemaRepo {
	repo := &fakeSchemaRepo{
		known:       map[uuid.UUID]bool{},
		definitions: map[uuid.UUID]Definition{},
	}
	for _, id := range known {
		repo.known[id] = true
	}
	return repo
}

func (f *fakeSchemaRepo) TenantExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f.known[id], nil
}

func (f *fakeSchemaRepo) UpsertPending(_ context.Context, input UpdateInput, tenantID uuid.UUID, _ []byte) (Definition, error) {
	f.upserts++
	def := Definition{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     input.Name,
		Version:  f.upserts,
		DSLText:  input.Code,
		Status:   "pending",
	}
	f.definitions[def.ID] = def
	return def, nil
}

func (f *fakeSchemaRepo) MarkApplied(_ context.Context, id uuid.UUID) (Definition, error) {
	def, ok := f.definitions[id]
	if !ok {
		return Definition{}, ErrDefinitionNotFound
	}
	def.Status = "applied"
	def.IsActive = true
	f.definitions[id] = def
	return def, nil
}

func (f *fakeSchemaRepo) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeSchemaRepo) GetActive(_ context.Context, tenantID uuid.UUID) (Definition, error) {
	for _, def := range f.definitions {
		if def.TenantID == tenantID && def.IsActive {
			return def, nil
		}
	}
	return Definition{}, ErrDefinitionNotFound
}

type nilPools struct{}

func (nilPools) Pool(context.Context, uuid.UUID) (*pgxpool.Pool, error) { return nil, nil }

type nilCaches struct{}

func (nilCaches) Client(context.Context, uuid.UUID) (*redis.Client, error) {
	return nil, context.Canceled
}

func newTestService(repo Repository) *Service {
	return NewService(repo, nilPools{}, nilCaches{}, zap.NewNop())
}

func TestUpdateValidatesInput(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeSchemaRepo())

	tests := []struct {
		name  string
		input UpdateInput
		field string
	}{
		{name: "missing name", input: UpdateInput{Code: "table users { id uuid [pk] }"}, field: "name"},
		{name: "missing code", input: UpdateInput{Name: "Main"}, field: "definition.code"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := svc.Update(context.Background(), uuid.New(), tc.input)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Contains(t, validationErr.Fields, tc.field)
		})
	}
}

func TestUpdateRejectsUnknownTenant(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeSchemaRepo())

	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{
		Name: "Main",
		Code: "table users { id uuid [pk] }",
	})
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestUpdateRejectsDefinitionWithoutTables(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	repo := newFakeSchemaRepo(tenantID)
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), tenantID, UpdateInput{
		Name: "Main",
		Code: "// just a comment, nothing declared",
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "definition.code")
	require.Zero(t, repo.upserts, "nothing should be recorded for an empty definition")
}

func TestOverviewRejectsUnknownTenant(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeSchemaRepo())

	_, err := svc.Overview(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestTenantLockIsStablePerTenant(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeSchemaRepo())

	a := uuid.New()
	b := uuid.New()

	require.Same(t, svc.tenantLock(a), svc.tenantLock(a))
	require.NotSame(t, svc.tenantLock(a), svc.tenantLock(b))
}
