// Package app assembles the agent service client, recovery store and flow
// runner from configuration. The server and the CLI share it.
package app

import (
	"context"
	"log/slog"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/config"
	"github.com/ashureev/agentdemo/internal/flow"
	"github.com/ashureev/agentdemo/internal/recovery"
	"github.com/ashureev/agentdemo/internal/session"
)

// App holds the dependencies every entry point needs.
type App struct {
	Config   *config.Config
	Dial     agentsvc.DialFunc
	Recovery *recovery.FileStore
	Runner   *flow.Runner
	Logger   *slog.Logger
}

// New wires an App. Nothing is contacted until a flow or Reclaim runs.
func New(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithDial(cfg, agentsvc.Dialer(agentsvc.Options{
		ConnString:   cfg.Foundry.ConnString,
		APIKey:       cfg.Foundry.APIKey,
		APIVersion:   cfg.Foundry.APIVersion,
		PollInterval: cfg.Flow.RunPollInterval,
		Logger:       logger,
	}), logger)
}

// NewWithDial wires an App around an existing dialer.
func NewWithDial(cfg *config.Config, dial agentsvc.DialFunc, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	store := recovery.NewFileStore(cfg.StateFile)
	return &App{
		Config:   cfg,
		Dial:     dial,
		Recovery: store,
		Runner: flow.New(flow.Config{
			Dial:              dial,
			Model:             cfg.Foundry.Model,
			ImageDir:          cfg.Flow.ImageDir,
			UploadDir:         cfg.Flow.UploadDir,
			ImagePollTimeout:  cfg.Flow.ImagePollTimeout,
			ImagePollInterval: cfg.Flow.ImagePollInterval,
			DeleteThreads:     cfg.Flow.DeleteThreads,
			Recovery:          store,
			Logger:            logger,
		}),
		Logger: logger,
	}
}

// Reclaim deletes the remote resources left behind by a previous process.
func (a *App) Reclaim(ctx context.Context) (recovery.Report, error) {
	return recovery.Reclaim(ctx, a.Recovery, a.Dial, a.Logger)
}

// Sessions returns a session registry that keeps the recovery records current.
// perMinute <= 0 disables rate limiting.
func (a *App) Sessions(perMinute int) *session.Manager {
	return session.NewManager(a.Dial, a.Recovery, perMinute, a.Logger)
}
