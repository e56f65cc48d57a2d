package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/platform/go/dsl"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

var (
	// ErrTenantNotFound indicates the tenant does not exist in the control plane.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrDefinitionNotFound indicates the tenant has no schema definition yet.
	ErrDefinitionNotFound = errors.New("schema definition not found")
	// ErrReconcileFailed indicates the physical rebuild was rolled back and the
	// definition was marked failed.
	ErrReconcileFailed = errors.New("schema reconciliation failed")
)

// FieldErrors maps request field names to human readable messages.
type FieldErrors map[string]string

// ValidationError carries per-field validation failures back to the caller.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.Fields))
}

// Definition is the control-plane schema-of-record for one tenant.
type Definition struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description string
	Version     int
	DSLText     string
	Status      string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpdateInput is the validated payload of a schema update request.
type UpdateInput struct {
	Name        string
	Description string
	Code        string
}

// UpdateResult reports the outcome of a completed reconciliation.
type UpdateResult struct {
	Definition         Definition
	TablesCreated      int
	ConstraintFailures int
}

// Overview is the merged structural view of a tenant's store.
type Overview struct {
	Model        dsl.Model `json:"model"`
	SchemaName   string    `json:"schemaName"`
	SavedCode    string    `json:"savedCode"`
	Version      int       `json:"version"`
	TotalTables  int       `json:"totalTables"`
	TotalRows    int64     `json:"totalRows"`
	LastModified time.Time `json:"lastModified"`
	Introspected bool      `json:"introspected"`
}

// Repository persists schema definitions in the control plane.
type Repository interface {
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)
	UpsertPending(ctx context.Context, input UpdateInput, tenantID uuid.UUID, structuralModel []byte) (Definition, error)
	MarkApplied(ctx context.Context, definitionID uuid.UUID) (Definition, error)
	MarkFailed(ctx context.Context, definitionID uuid.UUID) error
	GetActive(ctx context.Context, tenantID uuid.UUID) (Definition, error)
}

// TenantPools resolves the dedicated connection pool of a tenant store.
type TenantPools interface {
	Pool(ctx context.Context, tenantID uuid.UUID) (*pgxpool.Pool, error)
}

// TenantCaches resolves the redis client bound to a tenant's namespace.
type TenantCaches interface {
	Client(ctx context.Context, tenantID uuid.UUID) (*redis.Client, error)
}

const (
	tenantNamespace  = "public"
	overviewCacheTTL = 5 * time.Minute
)

// overviewCacheKey returns the tenant-scoped cache key. Distinct tenants can
// land on the same cache namespace, so the key carries the tenant identifier.
func overviewCacheKey(tenantID uuid.UUID) string {
	return "schema:overview:" + tenantID.String()
}

// Service reconciles tenant stores against their declared schema. Updates are
// serialized per tenant; concurrent updates for distinct tenants proceed in
// parallel.
type Service struct {
	repo   Repository
	pools  TenantPools
	caches TenantCaches
	logger *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewService constructs the schema service.
func NewService(repo Repository, pools TenantPools, caches TenantCaches, logger *zap.Logger) *Service {
	if repo == nil {
		panic("repository is required")
	}
	if pools == nil {
		panic("tenant pools are required")
	}
	if caches == nil {
		panic("tenant caches are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{
		repo:   repo,
		pools:  pools,
		caches: caches,
		logger: logger,
		locks:  map[uuid.UUID]*sync.Mutex{},
	}
}

func (s *Service) tenantLock(tenantID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[tenantID] = lock
	}
	return lock
}

// Update records a new definition version and rebuilds the tenant store to
// match it. The physical rebuild runs in a single transaction: every current
// table is dropped and the compiled tables are created in document order. A
// failed creation rolls the whole rebuild back and the definition is marked
// failed; the previous version number is never reused. Constraint and trigger
// statements run after the commit and are tolerated individually.
func (s *Service) Update(ctx context.Context, tenantID uuid.UUID, input UpdateInput) (UpdateResult, error) {
	if err := validateUpdate(input); err != nil {
		return UpdateResult{}, err
	}

	exists, err := s.repo.TenantExists(ctx, tenantID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return UpdateResult{}, ErrTenantNotFound
	}

	model := dsl.ParseModel(input.Code)
	compiled := dsl.CompileDDL(input.Code, tenantNamespace)
	if len(compiled.CreateStatements) == 0 {
		return UpdateResult{}, &ValidationError{Fields: FieldErrors{
			"definition.code": "definition does not declare any tables",
		}}
	}

	structural, err := json.Marshal(model)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("marshal structural model: %w", err)
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	definition, err := s.repo.UpsertPending(ctx, input, tenantID, structural)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("record pending definition: %w", err)
	}

	pool, err := s.pools.Pool(ctx, tenantID)
	if err != nil {
		s.compensate(ctx, definition.ID)
		return UpdateResult{}, fmt.Errorf("acquire tenant pool: %w", err)
	}

	logger := s.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.Int("version", definition.Version),
	)

	if err := s.rebuild(ctx, pool, compiled.CreateStatements); err != nil {
		s.compensate(ctx, definition.ID)
		logger.Error("schema rebuild rolled back", zap.Error(err))
		return UpdateResult{}, fmt.Errorf("%w: %v", ErrReconcileFailed, err)
	}

	constraintFailures := s.applyConstraints(ctx, pool, compiled.ConstraintStatements, logger)

	applied, err := s.repo.MarkApplied(ctx, definition.ID)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("activate definition: %w", err)
	}

	s.invalidateOverview(ctx, tenantID)

	logger.Info("schema reconciled",
		zap.Int("tables_created", len(compiled.CreateStatements)),
		zap.Int("constraint_failures", constraintFailures),
	)

	return UpdateResult{
		Definition:         applied,
		TablesCreated:      len(compiled.CreateStatements),
		ConstraintFailures: constraintFailures,
	}, nil
}

// rebuild drops every base table in the tenant namespace and applies the
// creation statements, all within one transaction.
func (s *Service) rebuild(ctx context.Context, pool *pgxpool.Pool, creates []string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tables, err := persistence.ListBaseTables(ctx, tx, tenantNamespace)
	if err != nil {
		return err
	}
	for _, table := range tables {
		drop := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE",
			pgx.Identifier{tenantNamespace, table}.Sanitize())
		if _, err := tx.Exec(ctx, drop); err != nil {
			return fmt.Errorf("drop table %q: %w", table, err)
		}
	}

	for _, stmt := range creates {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// applyConstraints runs constraint and trigger statements one by one outside
// the rebuild transaction. Failures are counted and logged, never fatal.
func (s *Service) applyConstraints(ctx context.Context, pool *pgxpool.Pool, statements []string, logger *zap.Logger) int {
	failures := 0
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			failures++
			logger.Warn("constraint statement skipped", zap.Error(err))
		}
	}
	return failures
}

func (s *Service) compensate(ctx context.Context, definitionID uuid.UUID) {
	if err := s.repo.MarkFailed(ctx, definitionID); err != nil {
		s.logger.Error("compensating definition update failed",
			zap.String("definition_id", definitionID.String()),
			zap.Error(err),
		)
	}
}

// Overview returns the tenant's structural view. The active definition's DSL
// is authoritative; live introspection is only a bootstrap fallback for
// tenants that never saved a definition. Results are cached in the tenant's
// redis namespace until the next update.
func (s *Service) Overview(ctx context.Context, tenantID uuid.UUID) (Overview, error) {
	exists, err := s.repo.TenantExists(ctx, tenantID)
	if err != nil {
		return Overview{}, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return Overview{}, ErrTenantNotFound
	}

	if cached, ok := s.cachedOverview(ctx, tenantID); ok {
		return cached, nil
	}

	overview, err := s.buildOverview(ctx, tenantID)
	if err != nil {
		return Overview{}, err
	}

	s.storeOverview(ctx, tenantID, overview)
	return overview, nil
}

func (s *Service) buildOverview(ctx context.Context, tenantID uuid.UUID) (Overview, error) {
	pool, err := s.pools.Pool(ctx, tenantID)
	if err != nil {
		return Overview{}, fmt.Errorf("acquire tenant pool: %w", err)
	}

	totalRows, err := estimateRowCount(ctx, pool)
	if err != nil {
		s.logger.Warn("row count estimate unavailable",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}

	definition, err := s.repo.GetActive(ctx, tenantID)
	switch {
	case err == nil:
		model := dsl.ParseModel(definition.DSLText)
		return Overview{
			Model:        model,
			SchemaName:   definition.Name,
			SavedCode:    definition.DSLText,
			Version:      definition.Version,
			TotalTables:  len(model.Tables),
			TotalRows:    totalRows,
			LastModified: definition.UpdatedAt,
		}, nil
	case errors.Is(err, ErrDefinitionNotFound):
		model, introspectErr := persistence.IntrospectModel(ctx, pool, tenantNamespace)
		if introspectErr != nil {
			return Overview{}, fmt.Errorf("introspect tenant store: %w", introspectErr)
		}
		return Overview{
			Model:        model,
			TotalTables:  len(model.Tables),
			TotalRows:    totalRows,
			Introspected: true,
		}, nil
	default:
		return Overview{}, fmt.Errorf("load active definition: %w", err)
	}
}

func (s *Service) cachedOverview(ctx context.Context, tenantID uuid.UUID) (Overview, bool) {
	client, err := s.caches.Client(ctx, tenantID)
	if err != nil {
		s.logger.Warn("overview cache unavailable",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		return Overview{}, false
	}

	payload, err := client.Get(ctx, overviewCacheKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("overview cache read failed",
				zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
		return Overview{}, false
	}

	var overview Overview
	if err := json.Unmarshal(payload, &overview); err != nil {
		return Overview{}, false
	}
	return overview, true
}

func (s *Service) storeOverview(ctx context.Context, tenantID uuid.UUID, overview Overview) {
	client, err := s.caches.Client(ctx, tenantID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(overview)
	if err != nil {
		return
	}
	if err := client.Set(ctx, overviewCacheKey(tenantID), payload, overviewCacheTTL).Err(); err != nil {
		s.logger.Warn("overview cache write failed",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func (s *Service) invalidateOverview(ctx context.Context, tenantID uuid.UUID) {
	client, err := s.caches.Client(ctx, tenantID)
	if err != nil {
		return
	}
	if err := client.Del(ctx, overviewCacheKey(tenantID)).Err(); err != nil {
		s.logger.Warn("overview cache invalidation failed",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func estimateRowCount(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var total int64
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(n_live_tup), 0)
		FROM pg_stat_user_tables
		WHERE schemaname = $1
	`, tenantNamespace).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("estimate row count: %w", err)
	}
	return total, nil
}

func validateUpdate(input UpdateInput) error {
	fields := FieldErrors{}
	if input.Name == "" {
		fields["name"] = "name is required"
	}
	if len(input.Name) > 120 {
		fields["name"] = "name must be at most 120 characters"
	}
	if input.Code == "" {
		fields["definition.code"] = "definition code is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
