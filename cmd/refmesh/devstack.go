package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/refmesh/refmesh/pkg/config"
	"github.com/refmesh/refmesh/pkg/devstack"
)

func newDevStackCmd() *cobra.Command {
	var numProcesses int

	devstackCmd := &cobra.Command{
		Use:   "devstack",
		Short: "Run a local multi-process mesh inside one process, for experimentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevStack(cmd.Context(), numProcesses)
		},
	}

	devstackCmd.PersistentFlags().IntVar(&numProcesses, "processes", 3,
		"Number of simulated processes")
	return devstackCmd
}

func runDevStack(ctx context.Context, numProcesses int) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stack, err := devstack.NewDevStack(ctx, devstack.DevStackParams{
		NumProcesses: numProcesses,
		Config:       config.Default(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := stack.Stop(context.Background()); stopErr != nil {
			log.Error().Err(stopErr).Msg("devstack shutdown reported errors")
		}
	}()

	for _, n := range stack.Nodes {
		log.Ctx(ctx).Info().Str("process", n.ID().String()).Msg("devstack process ready")
	}

	<-ctx.Done()
	return nil
}
