package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashureev/agentdemo/internal/domain"
	"github.com/ashureev/agentdemo/internal/flow"
)

// cliSessionID names the single session a CLI invocation runs in.
const cliSessionID = "agentctl"

const cleanupTimeout = 30 * time.Second

func promptFrom(args []string, fallback string) string {
	if p := strings.TrimSpace(strings.Join(args, " ")); p != "" {
		return p
	}
	return fallback
}

func newCodeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "code [prompt]",
		Short: "Run a prompt through a Code Interpreter agent",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			if err := requireConfigured(a.Config); err != nil {
				return err
			}
			s := domain.NewSession(cliSessionID)
			res := a.Runner.CodeInterpreter(cmd.Context(), s, promptFrom(args, flow.DefaultCodeInterpreterPrompt), c.progress())
			return c.print(res)
		},
	}
}

func newRAGCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "rag --file PATH [question]",
		Short: "Ask a question about a document",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			if err := requireConfigured(a.Config); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open document: %w", err)
			}
			defer f.Close()

			// Unique per invocation so concurrent runs and a server sharing the
			// state file keep separate recovery records.
			sessions := a.Sessions(0)
			s, release, err := sessions.Acquire(cliSessionID + "-" + uuid.NewString())
			if err != nil {
				return err
			}
			defer release()

			res := a.Runner.RAG(cmd.Context(), s, flow.Upload{Name: filepath.Base(file), Body: f}, promptFrom(args, flow.DefaultRAGPrompt), c.progress())

			// A one-shot process has no later turn to reuse the cache.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), cleanupTimeout)
			defer cancel()
			if err := sessions.Clear(ctx, s); err != nil {
				fmt.Fprintf(c.errOut, "warning: cleanup incomplete, run `agentctl recover`: %v\n", err)
			}
			return c.print(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "document to search")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCombinedCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "combined --file PATH [request]",
		Short: "Analyse a document with search and Python execution",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			if err := requireConfigured(a.Config); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open document: %w", err)
			}
			defer f.Close()

			s := domain.NewSession(cliSessionID)
			res := a.Runner.Combined(cmd.Context(), s, flow.Upload{Name: filepath.Base(file), Body: f}, promptFrom(args, flow.DefaultCombinedPrompt), c.progress())
			return c.print(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "document to analyse")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// progress writes one line per step to stderr when verbose.
func (c *cli) progress() flow.Reporter {
	if !c.verbose {
		return nil
	}
	return flow.ReporterFunc(func(percent int, message string) {
		fmt.Fprintf(c.errOut, "[%3d%%] %s\n", percent, message)
	})
}

func (c *cli) print(res flow.Result) error {
	fmt.Fprintln(c.out, res.Text)
	if res.Code != "" {
		fmt.Fprintf(c.out, "\n--- code ---\n%s\n", res.Code)
	}
	if res.ImagePath != "" {
		fmt.Fprintf(c.out, "\nImage saved to %s\n", res.ImagePath)
	}
	if res.Outcome != domain.OutcomeSucceeded {
		return fmt.Errorf("%w: %s", errFlowFailed, res.Outcome)
	}
	return nil
}
