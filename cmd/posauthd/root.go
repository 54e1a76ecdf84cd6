package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the posauthd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posauthd",
		Short: "posauthd - point-of-sale identity and access service",
		Long: `posauthd signs staff in, rotates refresh sessions, runs the
emailed-code password recovery flow and streams audit events to back-office
dashboards.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAddUserCmd())

	return cmd
}
