// Package api exposes the dispatcher, webhook ingestion and the query and
// admin interfaces over HTTP.
package api

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/fallback"
	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/ratelimit"
	"github.com/artisanmart/notifier/internal/tracker"
)

// Dispatcher sends notifications.
type Dispatcher interface {
	Send(ctx context.Context, req models.SendRequest) models.NotificationResult
}

// Tracker is the delivery tracker surface used by the API.
type Tracker interface {
	ProcessWebhook(ctx context.Context, event models.StatusEvent, source string) (tracker.Outcome, error)
	Get(ctx context.Context, messageID string) (*tracker.Record, error)
	Timeline(ctx context.Context, messageID string) ([]tracker.Transition, error)
	GetDeliveryReport(ctx context.Context, from, to time.Time) (tracker.Report, error)
	Orphans() []tracker.OrphanEvent
}

// FallbackStats aggregates fallback decisions.
type FallbackStats interface {
	Stats(from, to time.Time) fallback.Stats
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies collects the collaborators of the HTTP handlers.
type Dependencies struct {
	Dispatcher Dispatcher
	Tracker    Tracker
	Fallback   FallbackStats
	Limiter    ratelimit.Limiter
	Checks     map[string]HealthCheck
	Logger     zerolog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("api: dispatcher is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("api: tracker is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("api: fallback stats are required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("api: rate limiter is required")
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	h := &handler{
		dispatcher: deps.Dispatcher,
		tracker:    deps.Tracker,
		fallback:   deps.Fallback,
		limiter:    deps.Limiter,
		checks:     deps.Checks,
		logger:     logger.With().Str("component", "http_api").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/notifications", h.sendNotification)
	v1.POST("/webhooks/status", h.statusWebhook)
	v1.POST("/webhooks/twilio", h.twilioWebhook)
	v1.GET("/webhooks/orphans", h.orphans)
	v1.GET("/messages/:id", h.message)
	v1.GET("/messages/:id/timeline", h.timeline)
	v1.GET("/reports/delivery", h.deliveryReport)
	v1.GET("/ratelimits/:channel", h.rateLimitInfo)
	v1.POST("/ratelimits/:channel/reset", h.rateLimitReset)
	v1.GET("/fallback/stats", h.fallbackStats)

	return router, nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		ev := logger.Debug()
		if c.Writer.Status() >= 500 {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(started)).
			Msg("api: request served")
	}
}
