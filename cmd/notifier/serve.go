package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/artisanmart/notifier/internal/api"
	"github.com/artisanmart/notifier/internal/kafka/consumer"
	"github.com/artisanmart/notifier/internal/retention"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the status relay consumer and the retention sweeper",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap("serve")
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise components")
		return err
	}
	defer a.Close()

	if !isDevelopment(cfg.App.Env) {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(api.Dependencies{
		Dispatcher: a.dispatcher,
		Tracker:    a.tracker,
		Fallback:   a.engine,
		Limiter:    a.limiter,
		Checks:     a.healthChecks(),
		Logger:     log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build router")
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	sweeper := retention.NewSweeper(retention.Config{
		Retention: cfg.Tracker.Retention,
		Interval:  cfg.Tracker.SweepInterval,
	}, log, nil,
		retention.Target{Name: "delivery_records", Prunable: a.tracker},
		retention.Target{Name: "fallback_attempts", Prunable: a.engine},
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	if cfg.Kafka.Enabled() {
		cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to create kafka consumer")
			return err
		}
		defer func() {
			if err := cons.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka consumer")
			}
		}()
		handler, err := consumer.NewStatusHandler(a.tracker, log)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cons.Consume(ctx, []string{cfg.Kafka.StatusTopic}, handler); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("status consumer terminated")
			}
		}()
		log.Info().Str("topic", cfg.Kafka.StatusTopic).Msg("status relay consumer started")
	}

	server := api.NewServer(":"+strconv.Itoa(cfg.App.Port), router, log)
	log.Info().Int("port", cfg.App.Port).Msg("notifier started")
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server terminated")
		stop()
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func isDevelopment(env string) bool {
	return env == "development" || env == "dev"
}
