package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	database "github.com/schemaloom/schemaloom/database"
	querieshandler "github.com/schemaloom/schemaloom/domains/queries/be/handler"
	queriesrepo "github.com/schemaloom/schemaloom/domains/queries/be/repo"
	queriesservice "github.com/schemaloom/schemaloom/domains/queries/be/service"
	schemashandler "github.com/schemaloom/schemaloom/domains/schemas/be/handler"
	schemasrepo "github.com/schemaloom/schemaloom/domains/schemas/be/repo"
	schemasservice "github.com/schemaloom/schemaloom/domains/schemas/be/service"
	tenantshandler "github.com/schemaloom/schemaloom/domains/tenants/be/handler"
	tenantsprov "github.com/schemaloom/schemaloom/domains/tenants/be/provisioning"
	tenantsrepo "github.com/schemaloom/schemaloom/domains/tenants/be/repo"
	tenantsservice "github.com/schemaloom/schemaloom/domains/tenants/be/service"
	platformlogging "github.com/schemaloom/schemaloom/platform/go/logging"
	platformmiddleware "github.com/schemaloom/schemaloom/platform/go/middleware"
	"github.com/schemaloom/schemaloom/platform/go/persistence"
	"github.com/schemaloom/schemaloom/platform/go/requesttrace"
)

type config struct {
	Port             string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisNamespaces  int           `env:"REDIS_NAMESPACES" envDefault:"16"`
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init control-plane pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.BootstrapControlSchema(ctx, pool); err != nil {
		logger.Fatal("bootstrap control schema", zap.Error(err))
	}

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	definitionStore, err := persistence.NewSchemaDefinitionStore(pool)
	if err != nil {
		logger.Fatal("init schema definition store", zap.Error(err))
	}
	historyStore, err := persistence.NewQueryHistoryStore(pool)
	if err != nil {
		logger.Fatal("init query history store", zap.Error(err))
	}

	storeProv, err := tenantsprov.NewStoreProvisioner(pool, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("init store provisioner", zap.Error(err))
	}
	defer storeProv.CloseAll()

	cacheProv, err := tenantsprov.NewCacheProvisioner(tenantsprov.CacheConfig{
		Addr:           cfg.RedisAddr,
		Password:       cfg.RedisPassword,
		NamespaceCount: cfg.RedisNamespaces,
	}, logger)
	if err != nil {
		logger.Fatal("init cache provisioner", zap.Error(err))
	}
	defer cacheProv.ReleaseAll()

	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	cleaner := tenantsrepo.NewControlCleaner(definitionStore, historyStore)
	tenantService := tenantsservice.New(tenantRepo, storeProv, cacheProv, cleaner, logger)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	schemaRepo, err := schemasrepo.NewPostgresRepository(definitionStore, tenantStore)
	if err != nil {
		logger.Fatal("init schema repository", zap.Error(err))
	}
	schemaService := schemasservice.NewService(schemaRepo, storeProv, cacheProv, logger)
	schemaHTTPHandler := schemashandler.New(schemaService, logger)

	queryRepo, err := queriesrepo.NewPostgresRepository(historyStore, tenantStore)
	if err != nil {
		logger.Fatal("init query repository", zap.Error(err))
	}
	queryService := queriesservice.NewService(queryRepo, storeProv, logger)
	queryHTTPHandler := querieshandler.New(queryService, logger)

	tenantCreateValidator := platformmiddleware.MustNewBodyValidator("tenant-create", database.TenantCreateContract)
	schemaUpdateValidator := platformmiddleware.MustNewBodyValidator("schema-update", database.SchemaUpdateContract)
	queryExecuteValidator := platformmiddleware.MustNewBodyValidator("query-execute", database.QueryExecuteContract)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(requesttrace.Middleware)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Route("/tenants", func(r chi.Router) {
		r.Group(func(g chi.Router) {
			g.Use(validateWrites(tenantCreateValidator))
			tenantHTTPHandler.Routes(g)
		})

		r.Route("/{tenantID}/schema", func(g chi.Router) {
			g.Use(validateWrites(schemaUpdateValidator))
			schemaHTTPHandler.Routes(g)
		})
		r.Route("/{tenantID}/queries", func(g chi.Router) {
			g.Use(validateWrites(queryExecuteValidator))
			queryHTTPHandler.Routes(g)
		})
	})
	rootRouter.Mount("/api/v1", apiRouter)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runRetentionSweep(sweepCtx, queryService, cfg.HistoryRetention, cfg.SweepInterval, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// validateWrites applies the body validator to mutating requests only; reads
// carry no body worth validating.
func validateWrites(v *platformmiddleware.BodyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		validated := v.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut:
				validated.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// runRetentionSweep periodically removes history records older than the
// retention window until the context is cancelled.
func runRetentionSweep(ctx context.Context, svc *queriesservice.Service, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		logger.Info("history retention sweep disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PurgeExpired(ctx, retention); err != nil {
				logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}
