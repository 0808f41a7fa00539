// AI Agent on the Fly - demo server for the Azure AI Foundry agent service.
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

	"github.com/ashureev/agentdemo/internal/api"
	"github.com/ashureev/agentdemo/internal/app"
	"github.com/ashureev/agentdemo/internal/config"
	"github.com/ashureev/agentdemo/internal/health"
	"github.com/ashureev/agentdemo/internal/identity"
	"github.com/ashureev/agentdemo/internal/middleware"
	"github.com/ashureev/agentdemo/internal/progress"
	"github.com/ashureev/agentdemo/internal/store"
	"github.com/ashureev/agentdemo/web"
)

const reclaimTimeout = 2 * time.Minute

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())
	for _, name := range cfg.Missing() {
		slog.Warn("Required setting is missing, flows will fail until it is set", "setting", name)
	}

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
	slog.Info("Database connected", "path", cfg.DBPath)

	a := app.New(cfg, logger)

	// Resources left by a crashed process are reclaimed before any flow runs.
	reclaimCtx, cancelReclaim := context.WithTimeout(context.Background(), reclaimTimeout)
	if rep, err := a.Reclaim(reclaimCtx); err != nil {
		slog.Warn("Startup reclaim incomplete", "error", err, "sessions", len(rep.Entries))
	} else if rep.Found() {
		slog.Info("Startup reclaim complete", "sessions", len(rep.Entries), "pending", len(rep.Pending()))
	}
	cancelReclaim()

	hub := progress.NewHub(logger)
	sessions := a.Sessions(cfg.RateLimitPerMinute)

	baseHandler := api.NewHandler(cfg, sessions, a.Runner, hub, repo, logger)
	healthHandler := api.NewHealthHandler(repo, cfg)
	wsHandler := progress.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)
	r.Get("/ws/progress", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// Flows hold the request open until the agent answers, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartTTLWorker(ctx, cfg.SessionTTL, hub.CloseSession)

	var healthSrv *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthSrv = health.NewServer(cfg.Configured(), logger)
		go func() {
			if err := healthSrv.ListenAndServe(cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if healthSrv != nil {
		healthSrv.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Cached agents and indexes die with their sessions. Sessions still busy
	// stay recorded and are reclaimed on the next start.
	releaseCtx, cancelRelease := context.WithTimeout(context.Background(), reclaimTimeout)
	sessions.ReleaseAll(releaseCtx, hub.CloseSession)
	cancelRelease()

	slog.Info("Server stopped successfully")
}
