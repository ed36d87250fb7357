package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/simplecache/internal/app"
	iauth "github.com/charlesng35/simplecache/internal/auth"
	"github.com/charlesng35/simplecache/internal/handlers"
	"github.com/charlesng35/simplecache/internal/middleware"
	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/internal/realtime"
	"github.com/charlesng35/simplecache/internal/services"
)

// Dependencies carries the collaborators the router wires into handlers.
// Only Config and Cache are required.
type Dependencies struct {
	Config     *app.Config
	Cache      *services.CacheService
	JWT        *iauth.JWTService
	Monitoring *monitoring.Module
	Hub        *realtime.Hub
	RateStore  middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.Cache == nil {
		return nil, errors.New("cache service must be provided")
	}
	if cfg.Auth.Enabled && deps.JWT == nil && len(cfg.Auth.APIKeys) == 0 {
		return nil, errors.New("auth is enabled but neither a jwt service nor api keys are configured")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, cfg, deps.Monitoring)
	registerMetricsRoute(r, cfg, deps.Monitoring)

	api := r.Group("/api")
	if cfg.Auth.Enabled {
		api.Use(middleware.Auth(deps.JWT, cfg.Auth.APIKeys))
	}
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	if err := registerCacheRoutes(api, deps.Cache); err != nil {
		return nil, err
	}

	if handler := handlers.NewMonitoringHandler(deps.Monitoring, cfg, deps.Cache); handler != nil {
		api.GET("/monitoring/summary", middleware.RequireScope(iauth.ScopeRead), handler.Summary)
	}

	if cfg.Realtime.Enabled && deps.Hub != nil {
		events := handlers.NewRealtimeHandler(deps.Hub)
		api.GET("/events", middleware.RequireScope(iauth.ScopeRead), events.Stream)
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerCacheRoutes(api *gin.RouterGroup, svc *services.CacheService) error {
	cacheHandler, err := handlers.NewCacheHandler(svc)
	if err != nil {
		return err
	}
	batchHandler, err := handlers.NewBatchHandler(svc)
	if err != nil {
		return err
	}
	counterHandler, err := handlers.NewCounterHandler(svc)
	if err != nil {
		return err
	}

	read := middleware.RequireScope(iauth.ScopeRead)
	write := middleware.RequireScope(iauth.ScopeWrite)

	entries := api.Group("/cache")
	{
		entries.GET("/:key", read, cacheHandler.Get)
		entries.GET("/:key/exists", read, cacheHandler.Exists)
		entries.PUT("/:key", write, cacheHandler.Set)
		entries.DELETE("/:key", write, cacheHandler.Delete)
		entries.DELETE("", write, cacheHandler.Clear)
	}

	batch := api.Group("/batch")
	{
		batch.POST("/get", read, batchHandler.Get)
		batch.POST("/set", write, batchHandler.Set)
		batch.POST("/delete", write, batchHandler.Delete)
	}

	counters := api.Group("/counters")
	{
		counters.POST("/:key/increment", write, counterHandler.Increment)
		counters.POST("/:key/decrement", write, counterHandler.Decrement)
	}
	return nil
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	var manager *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled && mon != nil {
		manager = mon.Health()
	}
	health := handlers.NewHealthHandler(manager)

	r.GET("/health", health.Health)
	r.GET("/health/live", health.Live)
	r.GET("/health/ready", health.Ready)
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if !cfg.Monitoring.Prometheus.Enabled || mon == nil {
		return
	}
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	r.GET(endpoint, gin.WrapH(mon.Handler()))
}
