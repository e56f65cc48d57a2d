package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	database "github.com/schemaloom/schemaloom/database"
)

func TestEmbeddedContractsCompile(t *testing.T) {
	t.Parallel()

	contracts := map[string][]byte{
		"tenant-create": database.TenantCreateContract,
		"schema-update": database.SchemaUpdateContract,
		"query-execute": database.QueryExecuteContract,
	}

	for name, document := range contracts {
		_, err := NewBodyValidator(name, document)
		require.NoError(t, err, "contract %s must compile", name)
	}
}

func TestBodyValidatorValidate(t *testing.T) {
	t.Parallel()

	v, err := NewBodyValidator("query-execute", database.QueryExecuteContract)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"query":"SELECT 1"}`, wantErr: false},
		{name: "missing query", payload: `{}`, wantErr: true},
		{name: "empty query", payload: `{"query":""}`, wantErr: true},
		{name: "wrong type", payload: `{"query":42}`, wantErr: true},
		{name: "extra property", payload: `{"query":"SELECT 1","x":1}`, wantErr: true},
		{name: "not json", payload: `SELECT 1`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := v.Validate([]byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBodyValidatorMiddlewareRestoresBody(t *testing.T) {
	t.Parallel()

	v := MustNewBodyValidator("query-execute", database.QueryExecuteContract)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(payload)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"SELECT 1"}`))
	rec := httptest.NewRecorder()
	v.Middleware(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"query":"SELECT 1"}`, seen)
}

func TestBodyValidatorMiddlewareRejectsInvalid(t *testing.T) {
	t.Parallel()

	v := MustNewBodyValidator("query-execute", database.QueryExecuteContract)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for invalid body")
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	v.Middleware(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
