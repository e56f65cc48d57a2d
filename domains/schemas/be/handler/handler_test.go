package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/schemaloom/schemaloom/domains/schemas/be/service"
	"github.com/schemaloom/schemaloom/platform/go/dsl"
)

type mockService struct {
	updateFn   func(ctx context.Context, tenantID uuid.UUID, input service.UpdateInput) (service.UpdateResult, error)
	overviewFn func(ctx context.Context, tenantID uuid.UUID) (service.Overview, error)
}

func (m *mockService) Update(ctx context.Context, tenantID uuid.UUID, input service.UpdateInput) (service.UpdateResult, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, tenantID, input)
}

func (m *mockService) Overview(ctx context.Context, tenantID uuid.UUID) (service.Overview, error) {
	if m.overviewFn == nil {
		panic("overviewFn not configured")
	}
	return m.overviewFn(ctx, tenantID)
}

func newTestRouter(svc Service, t *testing.T) http.Handler {
	t.Helper()

	h := New(svc, zaptest.NewLogger(t))
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}/schema", func(r chi.Router) {
		h.Routes(r)
	})
	return r
}

func TestHandlerUpdateReturnsPersistedDefinition(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	definitionID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	code := "table users { id uuid [pk] }"

	svc := &mockService{
		updateFn: func(_ context.Context, gotTenant uuid.UUID, input service.UpdateInput) (service.UpdateResult, error) {
			require.Equal(t, tenantID, gotTenant)
			require.Equal(t, "Main", input.Name)
			require.Equal(t, "primary layout", input.Description)
			require.Equal(t, code, input.Code)
			return service.UpdateResult{
				Definition: service.Definition{
					ID:          definitionID,
					TenantID:    tenantID,
					Name:        input.Name,
					Description: input.Description,
					Version:     3,
					DSLText:     input.Code,
					Status:      "applied",
					IsActive:    true,
					CreatedAt:   now,
					UpdatedAt:   now,
				},
				TablesCreated:      1,
				ConstraintFailures: 0,
			}, nil
		},
	}

	router := newTestRouter(svc, t)
	req := httptest.NewRequest(http.MethodPut, "/tenants/"+tenantID.String()+"/schema/",
		strings.NewReader(`{"name":"Main","description":"primary layout","definition":{"code":"table users { id uuid [pk] }"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body updateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, definitionID, body.ID)
	require.Equal(t, tenantID, body.TenantID)
	require.Equal(t, "Main", body.Name)
	require.Equal(t, "primary layout", body.Description)
	require.Equal(t, 3, body.Version)
	require.Equal(t, code, body.Definition.Code)
	require.True(t, body.IsActive)
	require.Equal(t, 1, body.TablesCreated)
	require.Zero(t, body.ConstraintFailures)
	require.True(t, now.Equal(body.CreatedAt))
	require.True(t, now.Equal(body.UpdatedAt))
}

func TestHandlerOverviewShape(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	lastModified := time.Now().UTC().Truncate(time.Second)

	svc := &mockService{
		overviewFn: func(_ context.Context, gotTenant uuid.UUID) (service.Overview, error) {
			require.Equal(t, tenantID, gotTenant)
			return service.Overview{
				Model: dsl.Model{
					Tables: []dsl.Table{{Name: "users", Columns: []dsl.Column{
						{Name: "id", Type: "uuid", PrimaryKey: true},
					}}},
					Relationships: []dsl.Relationship{{
						FromTable: "posts", FromColumn: "author_id",
						ToTable: "users", ToColumn: "id",
					}},
				},
				SchemaName:   "Main",
				SavedCode:    "table users { id uuid [pk] }",
				Version:      2,
				TotalTables:  1,
				TotalRows:    42,
				LastModified: lastModified,
			}, nil
		},
	}

	router := newTestRouter(svc, t)
	req := httptest.NewRequest(http.MethodGet, "/tenants/"+tenantID.String()+"/schema/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// Tables and relationships are top-level fields alongside the tenant id
	// and schema name, not nested under a wrapper object.
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "tenantId")
	require.Contains(t, body, "schemaName")
	require.Contains(t, body, "tables")
	require.Contains(t, body, "relationships")
	require.NotContains(t, body, "model")

	var resp overviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, tenantID, resp.TenantID)
	require.Equal(t, "Main", resp.SchemaName)
	require.Len(t, resp.Tables, 1)
	require.Equal(t, "users", resp.Tables[0].Name)
	require.Len(t, resp.Relationships, 1)
	require.Equal(t, 1, resp.TotalTables)
	require.Equal(t, int64(42), resp.TotalRows)
	require.Equal(t, "table users { id uuid [pk] }", resp.SavedCode)
	require.NotNil(t, resp.LastModified)
	require.True(t, lastModified.Equal(*resp.LastModified))
}

func TestHandlerUpdateReconcileFailure(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		updateFn: func(context.Context, uuid.UUID, service.UpdateInput) (service.UpdateResult, error) {
			return service.UpdateResult{}, service.ErrReconcileFailed
		},
	}

	router := newTestRouter(svc, t)
	req := httptest.NewRequest(http.MethodPut, "/tenants/"+uuid.NewString()+"/schema/",
		strings.NewReader(`{"name":"Main","definition":{"code":"table t { id int [pk] }"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerOverviewInvalidTenantID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&mockService{}, t)
	req := httptest.NewRequest(http.MethodGet, "/tenants/not-a-uuid/schema/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
