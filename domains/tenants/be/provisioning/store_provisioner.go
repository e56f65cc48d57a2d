package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	sqlassets "github.com/schemaloom/schemaloom/database"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// pgDuplicateDatabase is the SQLSTATE raised by CREATE DATABASE on an
// existing database name.
const pgDuplicateDatabase = "42P04"

// StoreProvisioner creates, caches, and tears down one isolated database and
// one connection pool per tenant. The admin pool stays connected to the
// control-plane database on the same server; tenant pools are derived from
// the same base connection config with only the database name swapped.
type StoreProvisioner struct {
	adminPool  *pgxpool.Pool
	baseConfig *pgxpool.Config
	logger     *zap.Logger

	mu    sync.Mutex
	pools map[uuid.UUID]*pgxpool.Pool
}

// NewStoreProvisioner wires the provisioner to the control-plane pool and the
// base connection string tenant pool configs are derived from.
func NewStoreProvisioner(adminPool *pgxpool.Pool, baseConnString string, logger *zap.Logger) (*StoreProvisioner, error) {
	if adminPool == nil {
		return nil, errors.New("store provisioner requires admin pool")
	}
	if logger == nil {
		return nil, errors.New("store provisioner requires logger")
	}

	baseConfig, err := pgxpool.ParseConfig(baseConnString)
	if err != nil {
		return nil, fmt.Errorf("parse base conn string: %w", err)
	}

	return &StoreProvisioner{
		adminPool:  adminPool,
		baseConfig: baseConfig,
		logger:     logger,
		pools:      make(map[uuid.UUID]*pgxpool.Pool),
	}, nil
}

// DatabaseName derives the deterministic database name for a tenant.
func DatabaseName(tenantID uuid.UUID) string {
	return "tenant_" + strings.ReplaceAll(tenantID.String(), "-", "")
}

// CreateTenantStore creates the tenant's dedicated database and applies the
// baseline bootstrap DDL (extensions, shared trigger function). Creating a
// store that already exists is a no-op logged as a warning.
func (p *StoreProvisioner) CreateTenantStore(ctx context.Context, tenantID uuid.UUID) error {
	dbName := DatabaseName(tenantID)

	// CREATE DATABASE cannot run inside a transaction.
	if _, err := p.adminPool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			p.logger.Warn("tenant database already exists",
				zap.String("tenant_id", tenantID.String()),
				zap.String("database", dbName))
		} else {
			return fmt.Errorf("create tenant database: %w", err)
		}
	}

	pool, err := p.Pool(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, stmt := range persistence.SplitStatements(sqlassets.TenantBootstrapSQL) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap tenant database: %w", err)
		}
	}

	p.logger.Info("tenant store provisioned",
		zap.String("tenant_id", tenantID.String()),
		zap.String("database", dbName))
	return nil
}

// Pool returns the cached connection pool for the tenant, lazily constructing
// and liveness-checking one on first access. A failed round trip tears the
// half-built pool down and propagates the error.
func (p *StoreProvisioner) Pool(ctx context.Context, tenantID uuid.UUID) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pools[tenantID]; ok {
		return pool, nil
	}

	config := p.baseConfig.Copy()
	config.ConnConfig.Database = DatabaseName(tenantID)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create tenant pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tenant database: %w", err)
	}

	p.pools[tenantID] = pool
	return pool, nil
}

// DeleteTenantStore closes and evicts the cached pool, terminates any
// remaining server-side sessions against the tenant database, and drops it.
// Deleting a store that never existed is not an error.
func (p *StoreProvisioner) DeleteTenantStore(ctx context.Context, tenantID uuid.UUID) error {
	dbName := DatabaseName(tenantID)

	p.mu.Lock()
	if pool, ok := p.pools[tenantID]; ok {
		pool.Close()
		delete(p.pools, tenantID)
	}
	p.mu.Unlock()

	if _, err := p.adminPool.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, dbName); err != nil {
		return fmt.Errorf("terminate tenant sessions: %w", err)
	}

	if _, err := p.adminPool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		return fmt.Errorf("drop tenant database: %w", err)
	}

	p.logger.Info("tenant store deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("database", dbName))
	return nil
}

// CloseAll closes every cached tenant pool; used at process shutdown.
func (p *StoreProvisioner) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pool := range p.pools {
		pool.Close()
		delete(p.pools, id)
	}
}
