// Package dispatcher is the entry point for sending a notification. It picks
// the channel, enforces the per channel quota, runs the retry executor and
// moves the message to another channel when the fallback engine allows it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/fallback"
	"github.com/artisanmart/notifier/internal/metrics"
	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/ratelimit"
	"github.com/artisanmart/notifier/internal/retry"
	"github.com/artisanmart/notifier/internal/tracker"
	"github.com/artisanmart/notifier/internal/util"
)

// DefaultMaxInFlight bounds concurrent dispatches.
const DefaultMaxInFlight = 64

var metadataLimits = util.MetadataLimits{MaxEntries: 20, MaxKeyLen: 64, MaxValueLen: 256}

// Tracker registers accepted messages.
type Tracker interface {
	TrackMessage(ctx context.Context, req tracker.TrackRequest) (*tracker.Record, error)
}

// FallbackEngine decides channel switches and records their outcome.
type FallbackEngine interface {
	Decide(in fallback.Input) fallback.Decision
	Resolve(attemptID string, success bool, messageID string)
}

// TextRenderer turns a template into plain text for channels without
// template support.
type TextRenderer interface {
	Text(ctx context.Context, name, language string, params map[string]string) (string, error)
}

// Config tunes a Dispatcher.
type Config struct {
	Policy retry.Policy
	// MaxFallbackAttempts defaults to fallback.DefaultMaxAttempts when zero.
	MaxFallbackAttempts int
	// DisableFallback turns channel switching off for every send.
	DisableFallback bool
	MaxInFlight     int
}

// Dependencies collects the collaborators of a Dispatcher.
type Dependencies struct {
	Senders   []common.Sender
	Limiter   ratelimit.Limiter
	Executor  *retry.Executor
	Fallback  FallbackEngine
	Tracker   Tracker
	Renderer  TextRenderer
	Publisher tracker.EventPublisher
	Logger    zerolog.Logger
	Now       func() time.Time
	// Sleep waits out fallback delays. It must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration)
	NewID func() string
}

// Dispatcher sends notifications.
type Dispatcher struct {
	cfg       Config
	senders   map[models.Channel]common.Sender
	limiter   ratelimit.Limiter
	executor  *retry.Executor
	fallback  FallbackEngine
	tracker   Tracker
	renderer  TextRenderer
	publisher tracker.EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
	newID     func() string
	semaphore *semaphore.Weighted
}

// New constructs a Dispatcher.
func New(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if len(deps.Senders) == 0 {
		return nil, errors.New("dispatcher: at least one sender is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("dispatcher: rate limiter is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("dispatcher: fallback engine is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("dispatcher: tracker is required")
	}

	senders := make(map[models.Channel]common.Sender, len(deps.Senders))
	for _, s := range deps.Senders {
		if s == nil {
			continue
		}
		if _, dup := senders[s.Channel()]; dup {
			return nil, fmt.Errorf("dispatcher: duplicate sender for channel %s", s.Channel())
		}
		senders[s.Channel()] = s
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "dispatcher").Logger()

	executor := deps.Executor
	if executor == nil {
		executor = retry.NewExecutor(retry.Dependencies{Logger: logger})
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	sleepFunc := deps.Sleep
	if sleepFunc == nil {
		sleepFunc = wait
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	if cfg.MaxFallbackAttempts <= 0 {
		cfg.MaxFallbackAttempts = fallback.DefaultMaxAttempts
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	return &Dispatcher{
		cfg:       cfg,
		senders:   senders,
		limiter:   deps.Limiter,
		executor:  executor,
		fallback:  deps.Fallback,
		tracker:   deps.Tracker,
		renderer:  deps.Renderer,
		publisher: deps.Publisher,
		logger:    logger,
		now:       nowFunc,
		sleep:     sleepFunc,
		newID:     newID,
		semaphore: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}, nil
}

// Send dispatches one notification and always returns a result. Caller
// cancellation does not abort a dispatch that passed request validation.
func (d *Dispatcher) Send(ctx context.Context, req models.SendRequest) models.NotificationResult {
	msg := models.Message{
		CorrelationID: d.newID(),
		To:            strings.TrimSpace(req.To),
		Channel:       initialChannel(req),
		Content: models.Content{
			Text:           req.Message,
			TemplateName:   strings.TrimSpace(req.TemplateName),
			TemplateParams: req.TemplateParams,
			Language:       req.Language,
		},
		CreatedAt: d.now(),
	}
	logger := d.logger.With().Str("correlation_id", msg.CorrelationID).Logger()

	priority, ok := models.ParsePriority(req.Priority)
	if !ok {
		return d.finish(logger, msg, 0, classify.New(classify.CodeInvalidRequest, classify.CategoryValidation,
			fmt.Sprintf("unknown priority %q", req.Priority)))
	}
	msg.Priority = priority
	meta, err := util.ValidateMetadata(req.Metadata, metadataLimits)
	if err != nil {
		return d.finish(logger, msg, 0, classify.New(classify.CodeInvalidRequest, classify.CategoryValidation, err.Error()))
	}

	base := context.WithoutCancel(ctx)
	if err := d.semaphore.Acquire(base, 1); err != nil {
		logger.Error().Err(err).Msg("dispatcher: failed to acquire dispatch slot")
		return d.finish(logger, msg, 0, classify.Classify(err))
	}
	defer d.semaphore.Release(1)
	metrics.DispatchInFlight.Inc()
	defer metrics.DispatchInFlight.Dec()

	return d.run(base, logger, msg, meta, req)
}

func (d *Dispatcher) run(ctx context.Context, logger zerolog.Logger, msg models.Message, meta map[string]string, req models.SendRequest) models.NotificationResult {
	maxFallback := d.cfg.MaxFallbackAttempts
	if req.MaxFallbackAttempts != nil {
		maxFallback = max(*req.MaxFallbackAttempts, 0)
	}
	if d.cfg.DisableFallback || (req.EnableFallback != nil && !*req.EnableFallback) {
		maxFallback = 0
	}

	attempts := 0
	pending := ""
	for {
		receipt, failure := d.attemptChannel(ctx, logger, &msg, meta)
		if failure == nil {
			msg.GatewayMessageID = receipt.MessageID
			d.track(ctx, logger, msg, receipt)
			if pending != "" {
				d.fallback.Resolve(pending, true, receipt.MessageID)
			}
			return d.finish(logger, msg, attempts, nil)
		}
		if pending != "" {
			d.fallback.Resolve(pending, false, "")
			pending = ""
		}
		if maxFallback == 0 {
			return d.finish(logger, msg, attempts, failure)
		}

		dec := d.fallback.Decide(fallback.Input{
			Classification: failure,
			Origin:         msg.Channel,
			Attempts:       attempts,
			MaxAttempts:    maxFallback,
			CorrelationID:  msg.CorrelationID,
		})
		d.publishDecision(ctx, msg, failure, dec)
		if !dec.ShouldFallback {
			return d.finish(logger, msg, attempts, failure)
		}

		if dec.Delay > 0 {
			logger.Info().Dur("delay", dec.Delay).Str("target", string(dec.TargetChannel)).Msg("dispatcher: delaying fallback")
			d.sleep(ctx, dec.Delay)
		}
		msg.Channel = dec.TargetChannel
		attempts++
		pending = dec.AttemptID
	}
}

// attemptChannel validates, consumes a token and sends on msg.Channel.
func (d *Dispatcher) attemptChannel(ctx context.Context, logger zerolog.Logger, msg *models.Message, meta map[string]string) (*common.Receipt, *classify.Classification) {
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return nil, classify.New(classify.CodeChannelUnavailable, classify.CategoryConfiguration,
			fmt.Sprintf("no sender configured for channel %s", msg.Channel))
	}

	out, err := d.outbound(ctx, msg, meta)
	if err != nil {
		return nil, classify.Classify(err)
	}
	if err := sender.Validate(out); err != nil {
		return nil, classify.Classify(err)
	}

	allowed, err := d.limiter.Consume(ctx, msg.Channel)
	if err != nil {
		logger.Error().Err(err).Str("channel", string(msg.Channel)).Msg("dispatcher: rate limiter unavailable, sending without quota")
	} else if !allowed {
		metrics.RateLimited.WithLabelValues(string(msg.Channel)).Inc()
		logger.Warn().Str("channel", string(msg.Channel)).Msg("dispatcher: channel quota exhausted")
		return nil, classify.New(classify.CodeRateLimited, classify.CategoryRateLimiting,
			fmt.Sprintf("rate limit reached for channel %s", msg.Channel))
	}

	var receipt *common.Receipt
	res := d.executor.Execute(ctx, d.cfg.Policy, retry.Call{
		Channel:       msg.Channel,
		CorrelationID: msg.CorrelationID,
		Do: func(actx context.Context) error {
			r, err := sender.Send(actx, out)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		},
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return receipt, nil
}

// outbound shapes the content for msg.Channel. Template content bound for the
// plain channel is rendered to text when no raw message was given.
func (d *Dispatcher) outbound(ctx context.Context, msg *models.Message, meta map[string]string) (*common.Outbound, error) {
	out := &common.Outbound{
		CorrelationID: msg.CorrelationID,
		To:            msg.To,
		Text:          msg.Content.Text,
		Language:      msg.Content.Language,
		Meta:          meta,
	}
	if msg.Channel == models.ChannelRich {
		out.TemplateName = msg.Content.TemplateName
		out.TemplateParams = msg.Content.TemplateParams
		return out, nil
	}
	if strings.TrimSpace(out.Text) == "" && msg.Content.TemplateName != "" {
		if d.renderer == nil {
			return nil, classify.New(classify.CodeUnsupportedContent, classify.CategoryValidation,
				"template content cannot be sent as plain text without a template store")
		}
		text, err := d.renderer.Text(ctx, msg.Content.TemplateName, msg.Content.Language, msg.Content.TemplateParams)
		if err != nil {
			return nil, err
		}
		out.Text = text
	}
	return out, nil
}

func (d *Dispatcher) track(ctx context.Context, logger zerolog.Logger, msg models.Message, receipt *common.Receipt) {
	_, err := d.tracker.TrackMessage(ctx, tracker.TrackRequest{
		MessageID:     receipt.MessageID,
		CorrelationID: msg.CorrelationID,
		Recipient:     msg.To,
		Channel:       msg.Channel,
		Address:       receipt.Address,
	})
	if err != nil {
		logger.Error().Err(err).Str("message_id", receipt.MessageID).Msg("dispatcher: failed to start tracking")
	}
}

func (d *Dispatcher) publishDecision(ctx context.Context, msg models.Message, c *classify.Classification, dec fallback.Decision) {
	if d.publisher == nil {
		return
	}
	event := models.DeliveryEvent{
		Type:          models.EventFallbackDecision,
		CorrelationID: msg.CorrelationID,
		Channel:       msg.Channel,
		ErrorCode:     string(c.Code),
		ErrorMessage:  c.Message,
		Meta: map[string]string{
			"attempt_id":      dec.AttemptID,
			"category":        string(c.Category),
			"should_fallback": strconv.FormatBool(dec.ShouldFallback),
			"target_channel":  string(dec.TargetChannel),
			"delay_ms":        strconv.FormatInt(dec.Delay.Milliseconds(), 10),
			"reason":          dec.Reason,
		},
		Timestamp: d.now(),
	}
	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		d.logger.Error().Err(err).Str("correlation_id", msg.CorrelationID).Msg("dispatcher: failed to publish fallback decision")
	}
}

func (d *Dispatcher) finish(logger zerolog.Logger, msg models.Message, attempts int, failure *classify.Classification) models.NotificationResult {
	res := models.NotificationResult{
		Success:          failure == nil,
		MessageID:        msg.GatewayMessageID,
		CorrelationID:    msg.CorrelationID,
		Channel:          msg.Channel,
		FallbackUsed:     attempts > 0,
		FallbackAttempts: attempts,
	}
	if failure != nil {
		res.Error = &models.ErrorDetail{
			Code:     string(failure.Code),
			Category: string(failure.Category),
			Message:  failure.Message,
		}
		metrics.DispatchTotal.WithLabelValues(string(msg.Channel), "failure").Inc()
		logger.Warn().
			Str("channel", string(msg.Channel)).
			Str("code", string(failure.Code)).
			Str("category", string(failure.Category)).
			Int("fallback_attempts", attempts).
			Dur("elapsed", d.now().Sub(msg.CreatedAt)).
			Msg("dispatcher: notification failed")
		return res
	}

	metrics.DispatchTotal.WithLabelValues(string(msg.Channel), "success").Inc()
	logger.Info().
		Str("channel", string(msg.Channel)).
		Str("message_id", msg.GatewayMessageID).
		Str("priority", string(msg.Priority)).
		Int("fallback_attempts", attempts).
		Dur("elapsed", d.now().Sub(msg.CreatedAt)).
		Msg("dispatcher: notification sent")
	return res
}

func initialChannel(req models.SendRequest) models.Channel {
	if req.HasTemplate() {
		return models.ChannelRich
	}
	return models.ChannelPlain
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
