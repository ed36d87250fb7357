package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/api"
	"github.com/charlesng35/simplecache/internal/app"
	"github.com/charlesng35/simplecache/internal/app/maintenance"
	iauth "github.com/charlesng35/simplecache/internal/auth"
	"github.com/charlesng35/simplecache/internal/cache"
	"github.com/charlesng35/simplecache/internal/database"
	"github.com/charlesng35/simplecache/internal/middleware"
	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/internal/monitoring/checks"
	"github.com/charlesng35/simplecache/internal/realtime"
	"github.com/charlesng35/simplecache/internal/services"
	"github.com/charlesng35/simplecache/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Backend    *app.CacheBackend
	Cache      *services.CacheService
	Monitoring *monitoring.Module
	Hub        *realtime.Hub
	Cleaner    *maintenance.Cleaner
	RateStore  *middleware.MemoryRateStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, cache backend, services and the
// HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Cache.NeedsDatabase() {
		stack.DB, err = initialiseDatabase(cfg)
		if err != nil {
			return nil, err
		}
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	if cfg.Realtime.Enabled {
		stack.Hub = realtime.NewHub()
	}

	stack.Backend, err = buildBackend(ctx, cfg, stack.DB, stack.Hub)
	if err != nil {
		return nil, err
	}
	log.Info("cache backend ready",
		zap.String("backend", stack.Backend.Name),
		zap.Bool("fallback", stack.Backend.Fallback),
	)

	var events services.EventPublisher
	if stack.Hub != nil {
		events = stack.Hub
	}
	stack.Cache, err = services.NewCacheService(stack.Backend.Cache, services.CacheServiceConfig{
		Backend:      stack.Backend.Name,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		MaxKeyLength: cfg.Cache.MaxKeyLength,
	}, events)
	if err != nil {
		return nil, fmt.Errorf("initialise cache service: %w", err)
	}

	var jwtSvc *iauth.JWTService
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.JWT.Secret) != "" {
		jwtSvc, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise jwt service: %w", err)
		}
	}

	if cfg.RateLimit.Enabled {
		stack.RateStore = middleware.NewMemoryRateStore()
	}

	registerHealthChecks(stack, cfg)

	stack.Cleaner = newCleaner(cfg, stack)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	deps := api.Dependencies{
		Config:     cfg,
		Cache:      stack.Cache,
		JWT:        jwtSvc,
		Monitoring: stack.Monitoring,
		Hub:        stack.Hub,
	}
	if stack.RateStore != nil {
		deps.RateStore = stack.RateStore
	}
	stack.Router, err = api.NewRouter(deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildBackend(ctx context.Context, cfg *app.Config, db *gorm.DB, hub *realtime.Hub) (*app.CacheBackend, error) {
	deps := app.BackendDeps{
		DB:      db,
		OnError: services.BackendErrorHandler(cfg.Cache.BackendName()),
	}
	if hub != nil {
		deps.Memory = []cache.Option{cache.WithExpireHook(func(key string) {
			hub.Publish(realtime.EventExpire, key, nil)
		})}
	}

	backend, err := app.BuildCacheBackend(ctx, cfg.Cache, deps)
	if err != nil {
		return nil, fmt.Errorf("initialise cache backend: %w", err)
	}
	return backend, nil
}

func registerHealthChecks(stack *runtimeStack, cfg *app.Config) {
	health := stack.Monitoring.Health()
	health.RegisterLiveness(checks.Maintenance(0))
	health.RegisterReadiness(checks.Backend(stack.Backend.Name, stack.Backend, stack.Backend.Fallback, 0))
	if stack.DB != nil {
		health.RegisterReadiness(checks.Database(stack.DB, 0))
	}
	if stack.Hub != nil && cfg.Realtime.Enabled {
		health.RegisterLiveness(checks.Realtime(stack.Hub))
	}
}

func newCleaner(cfg *app.Config, stack *runtimeStack) *maintenance.Cleaner {
	opts := []maintenance.Option{
		maintenance.WithSchedule(cfg.Cache.Sweep.Schedule),
		maintenance.WithEntryCounter(func() int {
			entries, _ := stack.Cache.Entries()
			return entries
		}),
	}
	if cfg.Cache.Sweep.Enabled {
		opts = append(opts, maintenance.WithSweeper("cache_sweep", stack.Backend))
	}
	if stack.RateStore != nil {
		opts = append(opts, maintenance.WithSweeper("ratelimit_sweep", stack.RateStore))
	}
	return maintenance.NewCleaner(opts...)
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.RateStore != nil {
		_ = s.RateStore.Close()
	}

	if s.Backend != nil {
		if err := s.Backend.Close(); err != nil {
			log.Warn("cache backend shutdown", zap.String("backend", s.Backend.Name), zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
