package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "refmesh",
		Short: "Distributed object lifetimes with ownership-based reference counting",
		Long: `refmesh runs a mesh of processes that create immutable objects, pass
references between each other, and reclaim each object exactly when its
last reference is gone. Each object is owned by one process, which keeps
the authoritative count of who still holds it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDevStackCmd())
	return rootCmd
}
