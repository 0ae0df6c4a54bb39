package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/app"
)

var resetState bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon with its HTTP API",
	Long: `Connect to the broker, keep the canonical matrix state, journal every
command and serve the HTTP API until SIGINT or SIGTERM.

The last confirmed state is restored from the database on startup unless
state.restore is false.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&resetState, "reset-state", false, "Forget the persisted matrix state on startup")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	log.Info().Str("config", configPath).Msg("Starting ledsync")

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return err
	}

	if resetState {
		log.Info().Msg("Clearing persisted matrix state (--reset-state)")
		if err := application.ResetState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear matrix state")
		}
	}

	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start application")
		return err
	}

	// Wait for shutdown
	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}
