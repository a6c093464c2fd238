package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/api"
	"github.com/artisanmart/notifier/internal/config"
	"github.com/artisanmart/notifier/internal/dispatcher"
	"github.com/artisanmart/notifier/internal/fallback"
	"github.com/artisanmart/notifier/internal/kafka/producer"
	kafkapublisher "github.com/artisanmart/notifier/internal/kafka/publisher"
	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/providers/factory"
	"github.com/artisanmart/notifier/internal/ratelimit"
	"github.com/artisanmart/notifier/internal/retry"
	"github.com/artisanmart/notifier/internal/templates"
	"github.com/artisanmart/notifier/internal/tracker"
)

// app holds every long lived component of the serve command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	redis    redis.UniversalClient
	db       *sql.DB
	producer *producer.Producer

	limiter    ratelimit.Limiter
	engine     *fallback.Engine
	tracker    *tracker.Tracker
	dispatcher *dispatcher.Dispatcher

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.RateLimit.Backend == config.BackendRedis || cfg.Tracker.Store == config.BackendRedis {
		client, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	if a.limiter, err = newLimiter(cfg, a.redis); err != nil {
		return nil, err
	}

	var publisher tracker.EventPublisher
	if cfg.Kafka.Enabled() {
		a.producer, err = producer.New(cfg.Kafka.Brokers, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, a.producer.Close)
		pub, err := kafkapublisher.NewEventPublisher(a.producer, cfg.Kafka.EventsTopic, logger)
		if err != nil {
			return nil, fmt.Errorf("event publisher: %w", err)
		}
		publisher = pub
	}

	var rules []fallback.Rule
	if cfg.Fallback.RulesFile != "" {
		if rules, err = fallback.LoadRules(cfg.Fallback.RulesFile); err != nil {
			return nil, err
		}
	}
	a.engine = fallback.NewEngine(fallback.Config{
		MaxAttempts:    cfg.Fallback.MaxAttempts,
		RateLimitDelay: cfg.Fallback.RateLimitDelay,
		Rules:          rules,
	}, fallback.Dependencies{
		Log:    fallback.NewLog(cfg.Fallback.LogSize),
		Logger: logger,
	})

	var store tracker.Store
	if cfg.Tracker.Store == config.BackendRedis {
		if store, err = tracker.NewRedisStore(a.redis, cfg.Redis.KeyPrefix+"tracker:"); err != nil {
			return nil, err
		}
	}
	a.tracker = tracker.New(tracker.Dependencies{
		Store:         store,
		Publisher:     publisher,
		OrphanLogSize: cfg.Tracker.OrphanLogSize,
		Logger:        logger,
	})

	tplStore, err := a.templateStore(ctx)
	if err != nil {
		return nil, err
	}

	senders, err := factory.Senders(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		Jitter:            cfg.Retry.Jitter,
		AttemptTimeout:    cfg.Retry.AttemptTimeout,
	}
	a.dispatcher, err = dispatcher.New(dispatcher.Config{
		Policy:              policy,
		MaxFallbackAttempts: cfg.Fallback.MaxAttempts,
		DisableFallback:     cfg.Fallback.MaxAttempts == 0,
		MaxInFlight:         cfg.Dispatch.MaxInFlight,
	}, dispatcher.Dependencies{
		Senders:   senders,
		Limiter:   a.limiter,
		Executor:  retry.NewExecutor(retry.Dependencies{Logger: logger}),
		Fallback:  a.engine,
		Tracker:   a.tracker,
		Renderer:  templates.NewRenderer(tplStore),
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) templateStore(ctx context.Context) (templates.Store, error) {
	var seed []templates.Template
	if a.cfg.Templates.File != "" {
		var err error
		if seed, err = templates.LoadFile(a.cfg.Templates.File); err != nil {
			return nil, err
		}
	}
	if a.cfg.Templates.Store != config.BackendPostgres {
		a.logger.Info().Int("templates", len(seed)).Msg("template store: memory")
		return templates.NewMemoryStore(seed...), nil
	}

	db, err := templates.OpenPostgres(ctx, a.cfg.Templates.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	store, err := templates.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Msg("template store: postgres")
	return store, nil
}

func (a *app) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.producer != nil {
		checks["kafka"] = func(context.Context) error {
			if !a.producer.IsReady() {
				return errors.New("producer not ready")
			}
			return nil
		}
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("shutdown: close failed")
		}
	}
	a.closers = nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func newLimiter(cfg *config.Config, rdb redis.UniversalClient) (ratelimit.Limiter, error) {
	caps := map[models.Channel]int{
		models.ChannelRich:  cfg.RateLimit.RichCapacity,
		models.ChannelPlain: cfg.RateLimit.PlainCapacity,
	}
	if cfg.RateLimit.Backend == config.BackendRedis {
		l, err := ratelimit.NewRedisLimiter(rdb, caps, cfg.RateLimit.Interval)
		if err != nil {
			return nil, err
		}
		return l.WithKeyPrefix(cfg.Redis.KeyPrefix + "ratelimit:"), nil
	}
	return ratelimit.NewMemoryLimiter(caps, ratelimit.WithInterval(cfg.RateLimit.Interval))
}
