package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

func TestValidateQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{name: "empty", query: "", wantErr: true},
		{name: "whitespace only", query: "   \n\t  ", wantErr: true},
		{name: "drop database", query: "DROP DATABASE tenant_abc", wantErr: true},
		{name: "create database lowercase", query: "create database sneaky", wantErr: true},
		{name: "alter database", query: "ALTER DATABASE postgres RENAME TO hacked", wantErr: true},
		{name: "drop schema", query: "drop schema public cascade", wantErr: true},
		{name: "create schema", query: "CREATE SCHEMA injected", wantErr: true},
		{name: "terminate backend", query: "SELECT pg_terminate_backend(123)", wantErr: true},
		{name: "restart", query: "RESTART", wantErr: true},
		{name: "mixed case with whitespace", query: "  dRoP   DaTaBaSe x  ", wantErr: true},
		{name: "embedded in larger statement", query: "SELECT 1; DROP DATABASE x", wantErr: true},
		{name: "plain select", query: "SELECT * FROM customers", wantErr: false},
		{name: "insert", query: "INSERT INTO orders (total) VALUES (10)", wantErr: false},
		{name: "drop table allowed", query: "DROP TABLE customers", wantErr: false},
		{name: "create table allowed", query: "CREATE TABLE widgets (id serial)", wantErr: false},
		{name: "column named database", query: "SELECT database FROM settings", wantErr: false},
		{name: "string mentioning drop database", query: "SELECT 'drop database docs' AS note", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateQuery(tc.query)
			if tc.wantErr {
				var validationErr *ValidationError
				require.ErrorAs(t, err, &validationErr)
				require.Contains(t, validationErr.Fields, "query")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

type fakeQueryRepo struct {
	mu       sync.Mutex
	known    map[uuid.UUID]bool
	inserted []persistence.InsertHistoryParams
	records  []persistence.QueryHistoryRecord
	purged   []time.Time
}

func newFakeQueryRepo(known ...uuid.UUID) *fakeQueryRepo {
	repo := &fakeQueryRepo{known: map[uuid.UUID]bool{}}
	for _, id := range known {
		repo.known[id] = true
	}
	return repo
}

func (f *fakeQueryRepo) TenantExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f.known[id], nil
}

func (f *fakeQueryRepo) InsertHistory(_ context.Context, params persistence.InsertHistoryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, params)
	return nil
}

func (f *fakeQueryRepo) ListHistory(_ context.Context, _ uuid.UUID, filter persistence.HistoryFilter) ([]persistence.QueryHistoryRecord, int, error) {
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(f.records) {
		return nil, len(f.records), nil
	}
	end := start + filter.PageSize
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[start:end], len(f.records), nil
}

func (f *fakeQueryRepo) PurgeHistoryOlderThan(_ context.Context, horizon time.Time) (int64, error) {
	f.purged = append(f.purged, horizon)
	return 3, nil
}

type nilPools struct{}

func (nilPools) Pool(context.Context, uuid.UUID) (*pgxpool.Pool, error) {
	return nil, nil
}

func TestExecuteRejectsUnknownTenant(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeQueryRepo(), nilPools{}, zap.NewNop())

	_, err := svc.Execute(context.Background(), uuid.New(), "SELECT 1")
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestExecuteValidatesBeforeTenantLookup(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeQueryRepo(), nilPools{}, zap.NewNop())

	_, err := svc.Execute(context.Background(), uuid.New(), "DROP DATABASE x")

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestHistoryPagination(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	repo := newFakeQueryRepo(tenantID)
	for i := 0; i < 45; i++ {
		repo.records = append(repo.records, persistence.QueryHistoryRecord{
			ID:       uuid.New(),
			TenantID: tenantID,
			Success:  true,
		})
	}

	svc := NewService(repo, nilPools{}, zap.NewNop())

	result, err := svc.History(context.Background(), tenantID, HistoryOptions{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Equal(t, 2, result.Page)
	require.Equal(t, 20, result.PageSize)
	require.Equal(t, 45, result.TotalItems)
	require.Equal(t, 3, result.TotalPages)
	require.Len(t, result.Entries, 20)
}

func TestHistoryClampsPageArguments(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	svc := NewService(newFakeQueryRepo(tenantID), nilPools{}, zap.NewNop())

	result, err := svc.History(context.Background(), tenantID, HistoryOptions{Page: -3, PageSize: 9999})
	require.NoError(t, err)
	require.Equal(t, 1, result.Page)
	require.Equal(t, 20, result.PageSize)
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	repo := newFakeQueryRepo()
	svc := NewService(repo, nilPools{}, zap.NewNop())

	removed, err := svc.PurgeExpired(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)
	require.Len(t, repo.purged, 1)
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), repo.purged[0], time.Minute)

	_, err = svc.PurgeExpired(context.Background(), 0)
	require.Error(t, err)
}
