package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/ratelimit"
	"github.com/artisanmart/notifier/internal/tracker"
	"github.com/artisanmart/notifier/internal/util"
)

const (
	sourceHTTP    = "http"
	sourceTwilio  = "twilio"
	healthTimeout = 2 * time.Second
)

type handler struct {
	dispatcher Dispatcher
	tracker    Tracker
	fallback   FallbackStats
	limiter    ratelimit.Limiter
	checks     map[string]HealthCheck
	logger     zerolog.Logger
}

func (h *handler) sendNotification(c *gin.Context) {
	var req models.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	res := h.dispatcher.Send(c.Request.Context(), req)
	c.JSON(resultStatus(res), res)
}

func resultStatus(res models.NotificationResult) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Error == nil {
		return http.StatusInternalServerError
	}
	switch classify.Category(res.Error.Category) {
	case classify.CategoryValidation:
		return http.StatusBadRequest
	case classify.CategoryUserError:
		return http.StatusUnprocessableEntity
	case classify.CategoryRateLimiting:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (h *handler) statusWebhook(c *gin.Context) {
	var event models.StatusEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	h.ingest(c, event, sourceHTTP)
}

// twilioWebhook accepts the form encoded status callback Twilio posts.
func (h *handler) twilioWebhook(c *gin.Context) {
	event := models.StatusEvent{
		MessageID:    c.PostForm("MessageSid"),
		Status:       c.PostForm("MessageStatus"),
		ErrorCode:    c.PostForm("ErrorCode"),
		ErrorMessage: c.PostForm("ErrorMessage"),
	}
	if event.MessageID == "" {
		event.MessageID = c.PostForm("SmsSid")
	}
	if event.Status == "" {
		event.Status = c.PostForm("SmsStatus")
	}
	h.ingest(c, event, sourceTwilio)
}

func (h *handler) ingest(c *gin.Context, event models.StatusEvent, source string) {
	outcome, err := h.tracker.ProcessWebhook(c.Request.Context(), event, source)
	if errors.Is(err, tracker.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", event.MessageID).Msg("api: webhook ingestion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook ingestion failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "outcome": outcome})
}

func (h *handler) orphans(c *gin.Context) {
	orphans := h.tracker.Orphans()
	c.JSON(http.StatusOK, gin.H{"count": len(orphans), "orphans": orphans})
}

func (h *handler) message(c *gin.Context) {
	rec, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) timeline(c *gin.Context) {
	id := c.Param("id")
	transitions, err := h.tracker.Timeline(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": id, "timeline": transitions})
}

func (h *handler) lookupError(c *gin.Context, err error) {
	if errors.Is(err, tracker.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	h.logger.Error().Err(err).Str("message_id", c.Param("id")).Msg("api: record lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "record lookup failed"})
}

func (h *handler) deliveryReport(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	report, err := h.tracker.GetDeliveryReport(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error().Err(err).Msg("api: delivery report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery report failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) fallbackStats(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.fallback.Stats(from, to))
}

func (h *handler) rateLimitInfo(c *gin.Context) {
	ch, ok := channelParam(c)
	if !ok {
		return
	}
	info, err := h.limiter.Info(c.Request.Context(), ch)
	if err != nil {
		h.limiterError(c, ch, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) rateLimitReset(c *gin.Context) {
	ch, ok := channelParam(c)
	if !ok {
		return
	}
	if err := h.limiter.Reset(c.Request.Context(), ch); err != nil {
		h.limiterError(c, ch, err)
		return
	}
	h.logger.Info().Str("channel", string(ch)).Msg("api: channel quota reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset", "channel": ch})
}

func (h *handler) limiterError(c *gin.Context, ch models.Channel, err error) {
	if errors.Is(err, ratelimit.ErrUnknownChannel) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error().Err(err).Str("channel", string(ch)).Msg("api: rate limiter unavailable")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func channelParam(c *gin.Context) (models.Channel, bool) {
	ch, ok := models.ParseChannel(c.Param("channel"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel " + c.Param("channel")})
		return "", false
	}
	return ch, true
}

// dateRange reads optional RFC 3339 from/to query bounds. Missing bounds are
// left zero, which the aggregations treat as open.
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		t, err := util.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from: " + err.Error()})
			return from, to, false
		}
		from = t
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		t, err := util.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to: " + err.Error()})
			return from, to, false
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must not be before from"})
		return from, to, false
	}
	return from, to, true
}
