package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ArgonautCreations/depotforge/internal/audit"
	"github.com/ArgonautCreations/depotforge/internal/backend/helix"
	"github.com/ArgonautCreations/depotforge/internal/config"
	"github.com/ArgonautCreations/depotforge/internal/core"
	"github.com/ArgonautCreations/depotforge/internal/logging"
	"github.com/ArgonautCreations/depotforge/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"helix_port", cfg.Helix.Port,
		"helix_user", cfg.Helix.User,
		"history_enabled", cfg.Database.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Run history is optional: without DATABASE_URL the server provisions
	// normally but keeps no cross-restart record.
	var history *audit.Store
	if cfg.Database.Enabled() {
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("failed to parse database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		history = audit.NewStore(pool, slog.Default())
		if err := history.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "error", err)
			os.Exit(1)
		}
		slog.Info("run history enabled")
	}

	// Connect to the Helix server and verify the admin session before
	// accepting any work.
	session := helix.NewSession(helix.Options{
		Bin:     cfg.Helix.Bin,
		Port:    cfg.Helix.Port,
		User:    cfg.Helix.User,
		Charset: cfg.Helix.Charset,
	}, slog.Default())
	backend := helix.NewBackend(session)

	if err := backend.Verify(ctx); err != nil {
		slog.Error("helix session check failed", "error", err)
		slog.Error(core.FormatUserError(err))
		os.Exit(1)
	}
	slog.Info("helix session verified", "server", cfg.Helix.Port, "user", cfg.Helix.User)

	var recorder core.RunRecorder
	if history != nil {
		recorder = history
	}
	service, err := core.NewService(backend, core.ServiceOptions{
		DefaultPassword:    cfg.Provision.DefaultPassword,
		TemplatePattern:    cfg.Provision.TemplatePattern,
		UndoDir:            cfg.Provision.UndoDir,
		EmailDomainPattern: cfg.Provision.EmailDomainPattern,
	}, recorder, slog.Default())
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Create server with config
	server := web.NewServer(service, history, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
