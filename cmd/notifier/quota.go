package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artisanmart/notifier/internal/config"
	"github.com/artisanmart/notifier/internal/models"
)

func newQuotaCmd() *cobra.Command {
	quota := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset per channel send quotas",
	}
	quota.AddCommand(&cobra.Command{
		Use:   "reset [channel]",
		Short: "Refill a channel bucket in the shared Redis limiter",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuotaReset,
	})
	return quota
}

func runQuotaReset(cmd *cobra.Command, args []string) error {
	ch, ok := models.ParseChannel(args[0])
	if !ok {
		return fmt.Errorf("unknown channel %q", args[0])
	}

	cfg, log, err := bootstrap("quota-reset")
	if err != nil {
		return err
	}
	if cfg.RateLimit.Backend != config.BackendRedis {
		return fmt.Errorf("quota reset needs RATE_LIMIT_BACKEND=%s, in-memory buckets live inside the serve process", config.BackendRedis)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	client, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer client.Close()

	limiter, err := newLimiter(cfg, client)
	if err != nil {
		return err
	}
	if err := limiter.Reset(ctx, ch); err != nil {
		log.Error().Err(err).Str("channel", string(ch)).Msg("quota reset failed")
		return err
	}
	info, err := limiter.Info(ctx, ch)
	if err != nil {
		return err
	}
	log.Info().
		Str("channel", string(ch)).
		Int("remaining", info.Remaining).
		Int("capacity", info.Capacity).
		Msg("channel quota reset")
	fmt.Fprintf(cmd.OutOrStdout(), "%s quota reset: %d/%d tokens available\n", ch, info.Remaining, info.Capacity)
	return nil
}
