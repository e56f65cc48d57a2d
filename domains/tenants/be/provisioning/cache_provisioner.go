package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultNamespaceCount is the fixed number of logical cache namespaces.
// Namespace 0 is reserved for system-wide operations and never allocated to
// a tenant.
const DefaultNamespaceCount = 16

// CacheConfig holds the cache layer connection settings.
type CacheConfig struct {
	Addr           string
	Password       string
	NamespaceCount int
}

// CacheProvisioner deterministically maps tenants onto logical cache
// namespaces and caches one live client handle per tenant for the process
// lifetime.
type CacheProvisioner struct {
	cfg    CacheConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*redis.Client
}

// NewCacheProvisioner validates the configuration and returns a provisioner
// with an empty client cache. No connection is made until first use.
func NewCacheProvisioner(cfg CacheConfig, logger *zap.Logger) (*CacheProvisioner, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache provisioner requires addr")
	}
	if logger == nil {
		return nil, errors.New("cache provisioner requires logger")
	}
	if cfg.NamespaceCount == 0 {
		cfg.NamespaceCount = DefaultNamespaceCount
	}
	if cfg.NamespaceCount < 2 {
		return nil, fmt.Errorf("cache provisioner requires at least 2 namespaces, got %d", cfg.NamespaceCount)
	}

	return &CacheProvisioner{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[uuid.UUID]*redis.Client),
	}, nil
}

// Namespace computes the tenant's logical cache namespace. The function is
// pure and stable across process restarts: a polynomial rolling hash (base
// 31) of the tenant identifier string, wrapped to 32 bits, reduced modulo the
// namespace count, with namespace 0 remapped to 1.
func (p *CacheProvisioner) Namespace(tenantID uuid.UUID) int {
	return NamespaceFor(tenantID.String(), p.cfg.NamespaceCount)
}

// NamespaceFor is the allocation function behind Namespace, exposed for
// callers that only hold the identifier string.
func NamespaceFor(tenantID string, namespaceCount int) int {
	if namespaceCount <= 1 {
		namespaceCount = DefaultNamespaceCount
	}

	var hash int32
	for _, r := range tenantID {
		hash = hash*31 + int32(r)
	}

	namespace := int(hash) % namespaceCount
	if namespace < 0 {
		namespace = -namespace
	}
	if namespace == 0 {
		namespace = 1
	}
	return namespace
}

// Client returns the cached live client for the tenant's namespace, lazily
// connecting and liveness-checking one on first access.
func (p *CacheProvisioner) Client(ctx context.Context, tenantID uuid.UUID) (*redis.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[tenantID]; ok {
		return client, nil
	}

	namespace := p.Namespace(tenantID)
	client := redis.NewClient(&redis.Options{
		Addr:     p.cfg.Addr,
		Password: p.cfg.Password,
		DB:       namespace,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping cache namespace %d: %w", namespace, err)
	}

	p.clients[tenantID] = client
	p.logger.Debug("cache client connected",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("namespace", namespace))
	return client, nil
}

// Warm eagerly establishes and caches the tenant's client handle so the
// first request after provisioning does not pay the connection cost.
func (p *CacheProvisioner) Warm(ctx context.Context, tenantID uuid.UUID) error {
	_, err := p.Client(ctx, tenantID)
	return err
}

// Release closes and evicts the tenant's cached client, if any.
func (p *CacheProvisioner) Release(tenantID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[tenantID]; ok {
		_ = client.Close()
		delete(p.clients, tenantID)
	}
}

// ReleaseAll closes every cached client; used at process shutdown.
func (p *CacheProvisioner) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, client := range p.clients {
		_ = client.Close()
		delete(p.clients, id)
	}
}
