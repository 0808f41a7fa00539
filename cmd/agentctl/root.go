package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/agentdemo/internal/app"
	"github.com/ashureev/agentdemo/internal/config"
)

// cli carries what the commands share; tests swap newApp and the writers.
type cli struct {
	configPath string
	verbose    bool

	newApp func(cfg *config.Config, logger *slog.Logger) *app.App
	out    io.Writer
	errOut io.Writer
}

func defaultCLI() *cli {
	return &cli{newApp: app.New, out: os.Stdout, errOut: os.Stderr}
}

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Run agent demo flows against the Azure AI Foundry agent service",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a TOML config file (default $AGENTDEMO_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log every flow step")

	rootCmd.AddCommand(newCodeCmd(c))
	rootCmd.AddCommand(newRAGCmd(c))
	rootCmd.AddCommand(newCombinedCmd(c))
	rootCmd.AddCommand(newRecoverCmd(c))
	rootCmd.AddCommand(newHealthCmd(c))

	return rootCmd
}

// load reads .env and the config file, then wires an App.
func (c *cli) load() (*app.App, error) {
	_ = godotenv.Load()

	path := c.configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnv)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))

	return c.newApp(cfg, logger), nil
}

// requireConfigured fails fast when a flow cannot possibly reach the service.
func requireConfigured(cfg *config.Config) error {
	if missing := cfg.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	return nil
}

var errFlowFailed = errors.New("flow did not succeed")
