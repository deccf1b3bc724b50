// Deskloop - remote desktop agent session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/deskloop/deskloop/internal/api"
	"github.com/deskloop/deskloop/internal/config"
	"github.com/deskloop/deskloop/internal/middleware"
	"github.com/deskloop/deskloop/internal/sandbox"
	"github.com/deskloop/deskloop/internal/session"
	"github.com/deskloop/deskloop/internal/store"
	"github.com/deskloop/deskloop/internal/transcript"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	mgr, err := sandbox.NewDockerManager(sandbox.ManagerOptions{
		Image:        cfg.Sandbox.Image,
		Runtime:      cfg.Sandbox.Runtime,
		StreamHost:   cfg.Sandbox.StreamHost,
		AuthStateDir: cfg.Sandbox.AuthStateDir,
	})
	if err != nil {
		slog.Error("Failed to initialize sandbox manager", "error", err)
		os.Exit(1)
	}
	slog.Info("Sandbox manager initialized", "image", cfg.Sandbox.Image)

	// Ensure the bridge network desk instances attach to exists.
	networkID, err := mgr.EnsureNetwork(context.Background())
	if err != nil {
		slog.Error("Failed to ensure desk network", "error", err)
		os.Exit(1)
	}
	slog.Info("Desk network ready", "network_id", networkID)

	transcriptLog, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcriptLog.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	registry := session.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, registry, cfg)
	sessionAPI := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := session.NewHandler(repo, mgr, registry, transcriptLog, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	sessionAPI.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// WriteTimeout stays 0: WebSocket sessions are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reap instances whose session died without teardown, and cap
	// instance lifetimes.
	sandbox.StartReaper(ctx, mgr, registry, cfg.Sandbox.ReaperInterval, cfg.Sandbox.MaxAge)
	slog.Info("Instance reaper started", "interval", cfg.Sandbox.ReaperInterval, "max_age", cfg.Sandbox.MaxAge)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Cancel every session first so instances tear down; controllers
	// unregister only after their instance is gone.
	registry.CloseAll("server shutdown")
	drainDeadline := time.Now().Add(30 * time.Second)
	for registry.Count() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := registry.Count(); n > 0 {
		slog.Warn("Sessions still draining at shutdown", "count", n)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.FrontendURL == "*" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
