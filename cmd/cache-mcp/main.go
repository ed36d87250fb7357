package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/simplecache/internal/app"
	"github.com/charlesng35/simplecache/internal/app/maintenance"
	"github.com/charlesng35/simplecache/internal/database"
	"github.com/charlesng35/simplecache/internal/services"
	"github.com/charlesng35/simplecache/internal/tools"
	"github.com/charlesng35/simplecache/pkg/logger"
)

const serverVersion = "0.1.0"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run serves the cache tools over stdio. Stdout carries the protocol, so
// logs go to stderr.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simplecache-mcp", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}
	if _, err := app.ApplyRuntimeDefaults(cfg); err != nil {
		return err
	}

	if err := logger.InitWithOptions(logger.Options{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: []string{"stderr"},
	}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort
	log := logger.WithModule("mcp")

	var db *gorm.DB
	if cfg.Cache.NeedsDatabase() {
		db, err = database.Open(cfg.Database.DatabaseConnectionConfig())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = database.Close(db) }()
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto-migrate database: %w", err)
		}
	}

	backend, err := app.BuildCacheBackend(ctx, cfg.Cache, app.BackendDeps{
		DB:      db,
		OnError: services.BackendErrorHandler(cfg.Cache.BackendName()),
	})
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	svc, err := services.NewCacheService(backend.Cache, services.CacheServiceConfig{
		Backend:      backend.Name,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		MaxKeyLength: cfg.Cache.MaxKeyLength,
	}, nil)
	if err != nil {
		return err
	}

	if cfg.Cache.Sweep.Enabled {
		cleaner := maintenance.NewCleaner(
			maintenance.WithSchedule(cfg.Cache.Sweep.Schedule),
			maintenance.WithSweeper("cache_sweep", backend),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer cleaner.Stop()
	}

	s := server.NewMCPServer(
		"SimpleCache MCP",
		serverVersion,
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	tools.Register(s, svc)

	log.Info("serving cache tools on stdio", zap.String("backend", backend.Name))
	return server.ServeStdio(s)
}
