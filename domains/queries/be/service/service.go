package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/platform/go/persistence"
	"github.com/schemaloom/schemaloom/platform/go/requesttrace"
)

// ErrTenantNotFound indicates the tenant does not exist in the control plane.
var ErrTenantNotFound = errors.New("tenant not found")

// FieldErrors maps request field names to human readable messages.
type FieldErrors map[string]string

// ValidationError carries per-field validation failures back to the caller.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.Fields))
}

// previewLimit caps the number of result rows echoed back to the caller and
// persisted with the history record.
const previewLimit = 5

// historyWriteTimeout bounds the detached history insert so a stalled control
// plane cannot leak goroutines.
const historyWriteTimeout = 10 * time.Second

// denyPatterns rejects statements that operate on the database or schema
// level rather than on tenant tables. The query engine runs inside the
// tenant's dedicated database; these operations belong to the provisioner.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:drop|create|alter)\s+database\b`),
	regexp.MustCompile(`(?i)\b(?:drop|create|alter)\s+schema\b`),
	regexp.MustCompile(`(?i)\bpg_terminate_backend\b`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\brestart\b`),
}

// ExecutionResult is what an execution returns to the caller. SQL failures
// are reported through Success and Error rather than as transport errors.
type ExecutionResult struct {
	Success         bool
	Columns         []string
	Rows            [][]any
	RowCount        int64
	RowsAffected    int64
	Truncated       bool
	ExecutionTimeMs int64
	Error           string
}

// HistoryEntry is one recorded execution.
type HistoryEntry struct {
	ID              uuid.UUID
	QueryText       string
	QueryHash       string
	ExecutionTimeMs int64
	RowsAffected    int64
	Success         bool
	ErrorMessage    string
	RequestID       string
	CreatedAt       time.Time
}

// HistoryOptions narrows a history listing.
type HistoryOptions struct {
	Success  *bool
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// HistoryResult is one page of a tenant's execution history, newest first.
type HistoryResult struct {
	Entries    []HistoryEntry
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository persists execution history and resolves tenants.
type Repository interface {
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)
	InsertHistory(ctx context.Context, params persistence.InsertHistoryParams) error
	ListHistory(ctx context.Context, tenantID uuid.UUID, filter persistence.HistoryFilter) ([]persistence.QueryHistoryRecord, int, error)
	PurgeHistoryOlderThan(ctx context.Context, horizon time.Time) (int64, error)
}

// TenantPools resolves the dedicated connection pool of a tenant store.
type TenantPools interface {
	Pool(ctx context.Context, tenantID uuid.UUID) (*pgxpool.Pool, error)
}

// Service executes ad-hoc SQL against tenant stores and records every
// execution in the control-plane history.
type Service struct {
	repo   Repository
	pools  TenantPools
	logger *zap.Logger
}

// NewService constructs the query service.
func NewService(repo Repository, pools TenantPools, logger *zap.Logger) *Service {
	if repo == nil {
		panic("repository is required")
	}
	if pools == nil {
		panic("tenant pools are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{repo: repo, pools: pools, logger: logger}
}

// ValidateQuery applies the structural checks that run before any connection
// is acquired: the text must be non-empty and must not match the deny-list.
func ValidateQuery(queryText string) error {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return &ValidationError{Fields: FieldErrors{"query": "query text is required"}}
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(trimmed) {
			return &ValidationError{Fields: FieldErrors{"query": "query contains a forbidden database-level operation"}}
		}
	}
	return nil
}

// Execute runs the query on the tenant's store, measures wall-clock duration,
// and records the outcome asynchronously. A SQL error produces a failed
// ExecutionResult, not an error return; only infrastructure problems (unknown
// tenant, unreachable store) surface as errors.
func (s *Service) Execute(ctx context.Context, tenantID uuid.UUID, queryText string) (ExecutionResult, error) {
	if err := ValidateQuery(queryText); err != nil {
		return ExecutionResult{}, err
	}

	exists, err := s.repo.TenantExists(ctx, tenantID)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return ExecutionResult{}, ErrTenantNotFound
	}

	pool, err := s.pools.Pool(ctx, tenantID)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("acquire tenant pool: %w", err)
	}

	result := s.run(ctx, pool, queryText)
	s.recordExecution(ctx, tenantID, queryText, result)
	return result, nil
}

func (s *Service) run(ctx context.Context, pool *pgxpool.Pool, queryText string) ExecutionResult {
	start := time.Now()
	rows, err := pool.Query(ctx, queryText)
	if err != nil {
		return ExecutionResult{
			Success:         false,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			Error:           err.Error(),
		}
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	var (
		preview  [][]any
		rowCount int64
	)
	for rows.Next() {
		rowCount++
		if len(preview) >= previewLimit {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return ExecutionResult{
				Success:         false,
				Columns:         columns,
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Error:           err.Error(),
			}
		}
		preview = append(preview, values)
	}
	rows.Close()

	elapsed := time.Since(start).Milliseconds()
	if err := rows.Err(); err != nil {
		return ExecutionResult{
			Success:         false,
			Columns:         columns,
			ExecutionTimeMs: elapsed,
			Error:           err.Error(),
		}
	}

	affected := rows.CommandTag().RowsAffected()
	if rowCount > affected {
		affected = rowCount
	}

	return ExecutionResult{
		Success:         true,
		Columns:         columns,
		Rows:            preview,
		RowCount:        rowCount,
		Truncated:       rowCount > int64(len(preview)),
		ExecutionTimeMs: elapsed,
		RowsAffected:    affected,
	}
}

// recordExecution persists the history row in a detached goroutine; a failed
// insert is logged and never affects the caller's result.
func (s *Service) recordExecution(ctx context.Context, tenantID uuid.UUID, queryText string, result ExecutionResult) {
	requester := requesttrace.FromContextOrSystem(ctx)

	params := persistence.InsertHistoryParams{
		TenantID:        tenantID,
		QueryText:       queryText,
		QueryHash:       persistence.ComputeQueryHash(queryText),
		ExecutionTimeMs: result.ExecutionTimeMs,
		RowsAffected:    result.RowsAffected,
		Success:         result.Success,
		RequestID:       optional(requester.RequestID),
		RemoteAddr:      optional(requester.RemoteAddr),
		UserAgent:       optional(requester.UserAgent),
	}
	if result.Error != "" {
		params.ErrorMessage = optional(result.Error)
	}
	if len(result.Columns) > 0 {
		if encoded, err := json.Marshal(result.Columns); err == nil {
			params.ResultColumns = encoded
		}
	}
	if len(result.Rows) > 0 {
		if encoded, err := json.Marshal(result.Rows); err == nil {
			params.ResultPreview = encoded
		}
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()
		if err := s.repo.InsertHistory(writeCtx, params); err != nil {
			s.logger.Error("query history insert failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}()
}

// History returns one page of the tenant's execution history, newest first.
func (s *Service) History(ctx context.Context, tenantID uuid.UUID, opts HistoryOptions) (HistoryResult, error) {
	exists, err := s.repo.TenantExists(ctx, tenantID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return HistoryResult{}, ErrTenantNotFound
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size < 1 || size > 100 {
		size = 20
	}

	records, total, err := s.repo.ListHistory(ctx, tenantID, persistence.HistoryFilter{
		Success:  opts.Success,
		From:     opts.From,
		To:       opts.To,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		return HistoryResult{}, fmt.Errorf("list history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toHistoryEntry(rec))
	}

	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}

	return HistoryResult{
		Entries:    entries,
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// PurgeExpired removes history records older than the retention window and
// returns the number removed; the retention sweeper and the admin CLI call
// this on their own schedules.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	horizon := time.Now().Add(-retention)
	removed, err := s.repo.PurgeHistoryOlderThan(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	if removed > 0 {
		s.logger.Info("query history purged",
			zap.Int64("removed", removed),
			zap.Time("horizon", horizon),
		)
	}
	return removed, nil
}

func toHistoryEntry(rec persistence.QueryHistoryRecord) HistoryEntry {
	entry := HistoryEntry{
		ID:              rec.ID,
		QueryText:       rec.QueryText,
		QueryHash:       rec.QueryHash,
		ExecutionTimeMs: rec.ExecutionTimeMs,
		RowsAffected:    rec.RowsAffected,
		Success:         rec.Success,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.ErrorMessage != nil {
		entry.ErrorMessage = *rec.ErrorMessage
	}
	if rec.RequestID != nil {
		entry.RequestID = *rec.RequestID
	}
	return entry
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
