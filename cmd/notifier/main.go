package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artisanmart/notifier/internal/config"
	"github.com/artisanmart/notifier/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notifier",
		Short:         "Multi-channel notification delivery engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newQuotaCmd())
	return root
}

// bootstrap loads configuration and builds the process logger.
func bootstrap(command string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fail("config load", command, err)
		return nil, zerolog.Nop(), err
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", command, err)
		return nil, zerolog.Nop(), err
	}
	return cfg, log.With().Str("command", command).Logger(), nil
}

func fail(stage, command string, err error) {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	l.Error().Err(err).Str("stage", stage).Str("command", command).Msg("notifier init failed")
}
