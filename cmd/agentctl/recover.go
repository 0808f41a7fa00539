package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/agentdemo/internal/health"
)

func newRecoverCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Delete the agents and vector stores left by interrupted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			rep, err := a.Reclaim(cmd.Context())
			if err != nil {
				return err
			}
			if !rep.Found() {
				fmt.Fprintln(c.out, "Nothing to recover.")
				return nil
			}
			for _, e := range rep.Entries {
				if e.AgentID != "" {
					fmt.Fprintf(c.out, "[%s] agent %s: %s\n", e.SessionID, e.AgentID, deletedWord(e.AgentDeleted))
				}
				if e.IndexID != "" {
					fmt.Fprintf(c.out, "[%s] vector store %s: %s\n", e.SessionID, e.IndexID, deletedWord(e.IndexDeleted))
				}
			}
			if pending := rep.Pending(); len(pending) > 0 {
				return fmt.Errorf("%d session(s) still recorded in %s, run recover again", len(pending), a.Config.StateFile)
			}
			fmt.Fprintf(c.out, "Removed %s\n", a.Config.StateFile)
			return nil
		},
	}
}

func deletedWord(ok bool) string {
	if ok {
		return "deleted"
	}
	return "delete failed"
}

func newHealthCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running server's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				a, err := c.load()
				if err != nil {
					return err
				}
				addr = a.Config.GRPCHealthAddr
			}
			if addr == "" {
				return fmt.Errorf("no health address: pass --addr or set GRPC_HEALTH_ADDR")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			status, err := health.Check(ctx, addr, health.ServiceName)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, status.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health server address (default $GRPC_HEALTH_ADDR)")
	return cmd
}
