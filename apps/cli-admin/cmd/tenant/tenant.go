package tenantcmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/domains/tenants/be/provisioning"
	"github.com/schemaloom/schemaloom/domains/tenants/be/repo"
	"github.com/schemaloom/schemaloom/domains/tenants/be/service"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
)

// Command groups tenant lifecycle helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create/delete/list)",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(deleteCommand())
	cmd.AddCommand(listCommand())
	return cmd
}

type wiring struct {
	pool    interface{ Close() }
	service *service.Service
	stores  *provisioning.StoreProvisioner
	cache   *provisioning.CacheProvisioner
}

func (w wiring) close() {
	w.stores.CloseAll()
	w.cache.ReleaseAll()
	w.pool.Close()
}

func wire(ctx context.Context, databaseURL, redisAddr, redisPassword string) (wiring, error) {
	logger := zap.NewNop()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return wiring{}, fmt.Errorf("init pool: %w", err)
	}

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		pool.Close()
		return wiring{}, fmt.Errorf("init tenant store: %w", err)
	}
	definitionStore, err := persistence.NewSchemaDefinitionStore(pool)
	if err != nil {
		pool.Close()
		return wiring{}, fmt.Errorf("init definition store: %w", err)
	}
	historyStore, err := persistence.NewQueryHistoryStore(pool)
	if err != nil {
		pool.Close()
		return wiring{}, fmt.Errorf("init history store: %w", err)
	}

	stores, err := provisioning.NewStoreProvisioner(pool, databaseURL, logger)
	if err != nil {
		pool.Close()
		return wiring{}, fmt.Errorf("init store provisioner: %w", err)
	}
	cache, err := provisioning.NewCacheProvisioner(provisioning.CacheConfig{
		Addr:     redisAddr,
		Password: redisPassword,
	}, logger)
	if err != nil {
		pool.Close()
		return wiring{}, fmt.Errorf("init cache provisioner: %w", err)
	}

	svc := service.New(
		repo.NewPostgresRepository(tenantStore),
		stores,
		cache,
		repo.NewControlCleaner(definitionStore, historyStore),
		logger,
	)

	return wiring{pool: pool, service: svc, stores: stores, cache: cache}, nil
}

func createCommand() *cobra.Command {
	var (
		databaseURL   string
		redisAddr     string
		redisPassword string
		name          string
		slug          string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and provision its database and cache namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			w, err := wire(ctx, databaseURL, redisAddr, redisPassword)
			if err != nil {
				return err
			}
			defer w.close()

			tenant, err := w.service.Create(ctx, service.CreateInput{Name: name, Slug: slug})
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s created. ID: %s, database: %s, cache namespace: %d\n",
				tenant.Slug, tenant.ID, tenant.DatabaseName, tenant.CacheNS)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	c.Flags().StringVar(&redisPassword, "redis-password", "", "Redis password")
	c.Flags().StringVar(&name, "name", "", "Tenant display name")
	c.Flags().StringVar(&slug, "slug", "", "Tenant slug")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("slug")

	return c
}

func deleteCommand() *cobra.Command {
	var (
		databaseURL   string
		redisAddr     string
		redisPassword string
		tenantID      string
	)

	c := &cobra.Command{
		Use:   "delete",
		Short: "Tear a tenant down: database, cache handle, control-plane records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			w, err := wire(ctx, databaseURL, redisAddr, redisPassword)
			if err != nil {
				return err
			}
			defer w.close()

			if err := w.service.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s deleted.\n", id)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	c.Flags().StringVar(&redisPassword, "redis-password", "", "Redis password")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant identifier")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("tenant-id")

	return c
}

func listCommand() *cobra.Command {
	var (
		databaseURL   string
		redisAddr     string
		redisPassword string
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			w, err := wire(ctx, databaseURL, redisAddr, redisPassword)
			if err != nil {
				return err
			}
			defer w.close()

			result, err := w.service.List(ctx, service.ListOptions{Page: 1, PageSize: 100})
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			for _, t := range result.Tenants {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tns=%d\tactive=%t\n",
					t.ID, t.Slug, t.DatabaseName, t.CacheNS, t.IsActive)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tenants\n", result.TotalItems)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	c.Flags().StringVar(&redisPassword, "redis-password", "", "Redis password")

	_ = c.MarkFlagRequired("database-url")

	return c
}
