// Package fallback decides whether a failed send should move to another
// channel. Decisions come from a declarative rule table with category
// defaults, and every decision is kept in a bounded log for analysis.
package fallback

import (
	"context"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/metrics"
	"github.com/artisanmart/notifier/internal/models"
)

// DefaultMaxAttempts is the number of channel switches allowed per message.
const DefaultMaxAttempts = 2

// DefaultChain maps each channel to its fallback. Channels without an entry
// are terminal.
func DefaultChain() map[models.Channel]models.Channel {
	return map[models.Channel]models.Channel{
		models.ChannelRich: models.ChannelPlain,
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	ShouldFallback bool           `json:"shouldFallback"`
	TargetChannel  models.Channel `json:"targetChannel,omitempty"`
	Delay          time.Duration  `json:"delay"`
	Reason         string         `json:"reason"`
	// AttemptID identifies the logged attempt so its outcome can be resolved.
	AttemptID string `json:"attemptId"`
}

// Input carries everything a decision depends on.
type Input struct {
	Classification *classify.Classification
	Origin         models.Channel
	// Attempts is the number of channel switches already taken.
	Attempts int
	// MaxAttempts overrides the engine default when positive.
	MaxAttempts   int
	CorrelationID string
}

// Config tunes an Engine.
type Config struct {
	MaxAttempts    int
	RateLimitDelay time.Duration
	// Rules extend and override the default table.
	Rules []Rule
	Chain map[models.Channel]models.Channel
}

// Dependencies collects the collaborators of an Engine.
type Dependencies struct {
	Log    *Log
	Logger zerolog.Logger
	Now    func() time.Time
}

// Engine evaluates fallback decisions.
type Engine struct {
	maxAttempts    int
	rateLimitDelay time.Duration
	rules          ruleIndex
	chain          map[models.Channel]models.Channel
	log            *Log
	logger         zerolog.Logger
	now            func() time.Time
}

// NewEngine builds an Engine from configuration. Missing values take defaults.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RateLimitDelay < 0 {
		cfg.RateLimitDelay = 0
	}
	if cfg.Chain == nil {
		cfg.Chain = DefaultChain()
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "fallback_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	log := deps.Log
	if log == nil {
		log = NewLog(DefaultLogSize)
	}

	return &Engine{
		maxAttempts:    cfg.MaxAttempts,
		rateLimitDelay: cfg.RateLimitDelay,
		rules:          newRuleIndex(DefaultRules(cfg.RateLimitDelay), cfg.Rules),
		chain:          cfg.Chain,
		log:            log,
		logger:         logger,
		now:            nowFunc,
	}
}

// Log exposes the attempt log.
func (e *Engine) Log() *Log {
	return e.log
}

// Decide evaluates a failure and logs the decision whether or not a
// fallback is taken.
func (e *Engine) Decide(in Input) Decision {
	c := in.Classification
	if c == nil {
		c = classify.New(classify.CodeUnknown, classify.CategoryService, "missing classification")
	}
	maxAttempts := e.maxAttempts
	if in.MaxAttempts > 0 {
		maxAttempts = in.MaxAttempts
	}

	dec := e.evaluate(c, in.Origin, in.Attempts, maxAttempts)
	dec.AttemptID = uuid.NewString()

	e.log.Append(Attempt{
		ID:             dec.AttemptID,
		CorrelationID:  in.CorrelationID,
		Origin:         in.Origin,
		Target:         dec.TargetChannel,
		Code:           c.Code,
		Category:       c.Category,
		Message:        c.Message,
		ShouldFallback: dec.ShouldFallback,
		Reason:         dec.Reason,
		Delay:          dec.Delay,
		Timestamp:      e.now(),
	})
	metrics.FallbackDecisions.WithLabelValues(string(in.Origin), strconv.FormatBool(dec.ShouldFallback), string(c.Category)).Inc()

	e.logger.Info().
		Str("correlation_id", in.CorrelationID).
		Str("origin", string(in.Origin)).
		Str("target", string(dec.TargetChannel)).
		Str("code", string(c.Code)).
		Str("category", string(c.Category)).
		Int("attempts", in.Attempts).
		Bool("fallback", dec.ShouldFallback).
		Dur("delay", dec.Delay).
		Str("reason", dec.Reason).
		Msg("fallback: decision")

	return dec
}

func (e *Engine) evaluate(c *classify.Classification, origin models.Channel, attempts, maxAttempts int) Decision {
	target, ok := e.chain[origin]
	if !ok || target == "" {
		return Decision{Reason: "channel " + string(origin) + " is the last hop"}
	}
	if attempts >= maxAttempts {
		return Decision{Reason: "fallback attempts exhausted"}
	}

	rule, ok := e.rules.lookup(c, origin)
	if !ok {
		rule = categoryDefault(c.Category, e.rateLimitDelay)
	}
	if !rule.Fallback {
		reason := rule.Reason
		if reason == "" {
			reason = "rule forbids fallback for " + string(c.Code)
		}
		return Decision{Reason: reason}
	}

	reason := rule.Reason
	if reason == "" {
		reason = "rule allows fallback for " + string(c.Code)
	}
	return Decision{
		ShouldFallback: true,
		TargetChannel:  target,
		Delay:          rule.Delay,
		Reason:         reason,
	}
}

// Resolve records the outcome on the target channel of a taken fallback.
func (e *Engine) Resolve(attemptID string, success bool, messageID string) {
	if !e.log.Resolve(attemptID, success, messageID) && attemptID != "" {
		e.logger.Debug().Str("attempt_id", attemptID).Msg("fallback: attempt no longer in log")
	}
}

// Stats aggregates the decision log.
func (e *Engine) Stats(from, to time.Time) Stats {
	return e.log.Stats(from, to)
}

// Prune evicts log entries older than cutoff.
func (e *Engine) Prune(_ context.Context, cutoff time.Time) (int, error) {
	n := e.log.Prune(cutoff)
	if n > 0 {
		metrics.RecordsPruned.WithLabelValues("fallback_attempt").Add(float64(n))
	}
	return n, nil
}
