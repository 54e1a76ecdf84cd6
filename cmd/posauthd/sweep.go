package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/sweeper"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Clear expired reset codes and reset tokens once",
		Long: `Run a single expiry sweep and exit. Use it from cron when the
serve process is not running its own sweeper.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return oops.Code("LOGGER_INIT_FAILED").Wrap(err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sw, err := sweeper.New(store, sweeper.Config{Logger: logger})
	if err != nil {
		return oops.Code("SWEEPER_INIT_FAILED").Wrap(err)
	}
	n, err := sw.SweepOnce(cmd.Context())
	if err != nil {
		return oops.Code("SWEEP_FAILED").Wrap(err)
	}

	cmd.Printf("Cleared expired reset credentials on %d accounts\n", n)
	return nil
}
