package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryHistoryRecord is one append-only query execution record. Rows are
// never updated; only the retention sweep removes them.
type QueryHistoryRecord struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	QueryText       string
	QueryHash       string
	ExecutionTimeMs int64
	RowsAffected    int64
	Success         bool
	ErrorMessage    *string
	ResultColumns   []byte
	ResultPreview   []byte
	RequestID       *string
	RemoteAddr      *string
	UserAgent       *string
	CreatedAt       time.Time
}

// InsertHistoryParams carries everything captured for one execution.
type InsertHistoryParams struct {
	TenantID        uuid.UUID
	QueryText       string
	QueryHash       string
	ExecutionTimeMs int64
	RowsAffected    int64
	Success         bool
	ErrorMessage    *string
	ResultColumns   []byte
	ResultPreview   []byte
	RequestID       *string
	RemoteAddr      *string
	UserAgent       *string
}

// HistoryFilter narrows a history listing. Nil fields are not applied.
type HistoryFilter struct {
	Success  *bool
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// QueryHistoryStore provides PostgreSQL-backed access to the query_history
// control-plane table.
type QueryHistoryStore struct {
	pool *pgxpool.Pool
}

// NewQueryHistoryStore returns a store bound to the control-plane pool.
func NewQueryHistoryStore(pool *pgxpool.Pool) (*QueryHistoryStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &QueryHistoryStore{pool: pool}, nil
}

// Insert appends one history record.
func (s *QueryHistoryStore) Insert(ctx context.Context, params InsertHistoryParams) error {
	if params.TenantID == uuid.Nil {
		return errors.New("tenant id is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_history (
			tenant_id, query_text, query_hash, execution_time_ms, rows_affected,
			success, error_message, result_columns, result_preview,
			request_id, remote_addr, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, params.TenantID, params.QueryText, params.QueryHash, params.ExecutionTimeMs,
		params.RowsAffected, params.Success, params.ErrorMessage,
		params.ResultColumns, params.ResultPreview,
		params.RequestID, params.RemoteAddr, params.UserAgent)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

// List returns a page of the tenant's history, newest first, plus the total
// count matching the filter.
func (s *QueryHistoryStore) List(ctx context.Context, tenantID uuid.UUID, filter HistoryFilter) ([]QueryHistoryRecord, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	where := "WHERE tenant_id = $1"
	args := []any{tenantID}
	if filter.Success != nil {
		args = append(args, *filter.Success)
		where += fmt.Sprintf(" AND success = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM query_history "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query history: %w", err)
	}

	args = append(args, size, (page-1)*size)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, query_text, query_hash, execution_time_ms,
		       rows_affected, success, error_message, result_columns,
		       result_preview, request_id, remote_addr, user_agent, created_at
		FROM query_history %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close()

	records := make([]QueryHistoryRecord, 0, size)
	for rows.Next() {
		var rec QueryHistoryRecord
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.QueryText, &rec.QueryHash,
			&rec.ExecutionTimeMs, &rec.RowsAffected, &rec.Success,
			&rec.ErrorMessage, &rec.ResultColumns, &rec.ResultPreview,
			&rec.RequestID, &rec.RemoteAddr, &rec.UserAgent, &rec.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan query history: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate query history: %w", err)
	}

	return records, total, nil
}

// PurgeOlderThan deletes records created before the horizon and returns the
// number removed. This is the only deletion path for history rows.
func (s *QueryHistoryStore) PurgeOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM query_history WHERE created_at < $1`, horizon)
	if err != nil {
		return 0, fmt.Errorf("purge query history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByTenant removes all of a tenant's history; used on tenant teardown.
func (s *QueryHistoryStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM query_history WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete query history: %w", err)
	}
	return nil
}
