// Package retry runs a single outbound gateway call under a bounded
// exponential backoff policy.
package retry

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/metrics"
	"github.com/artisanmart/notifier/internal/models"
)

// Policy controls how often and how fast a call is retried.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Jitter replaces each delay with a random duration in [0, delay].
	Jitter bool
	// AttemptTimeout bounds every individual call. Zero disables it.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 retries starting at one second, doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		AttemptTimeout:    10 * time.Second,
	}
}

// Delay returns the deterministic backoff before retry number attempt
// (zero based): min(base * multiplier^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if raw > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// AttemptFunc performs one gateway call.
type AttemptFunc func(ctx context.Context) error

// Call describes the operation being retried. Channel and CorrelationID only
// label logs and metrics.
type Call struct {
	Channel       models.Channel
	CorrelationID string
	Do            AttemptFunc
}

// Result summarises an execution. Err is nil on success.
type Result struct {
	Attempts int
	Retries  int
	Duration time.Duration
	Err      *classify.Classification
}

// Dependencies collects the optional collaborators of an Executor.
type Dependencies struct {
	Logger zerolog.Logger
	Now    func() time.Time
	// Sleep waits between attempts. It must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration)
}

// Executor runs calls under a Policy.
type Executor struct {
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewExecutor constructs an Executor.
func NewExecutor(deps Dependencies) *Executor {
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "retry_executor").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	sleepFunc := deps.Sleep
	if sleepFunc == nil {
		sleepFunc = wait
	}

	return &Executor{
		logger: logger,
		now:    nowFunc,
		sleep:  sleepFunc,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs call.Do until it succeeds, the failure is not retryable or the
// retry budget is spent. Caller cancellation does not abort the loop; each
// attempt only carries its own policy timeout.
func (e *Executor) Execute(ctx context.Context, policy Policy, call Call) Result {
	base := context.WithoutCancel(ctx)
	started := e.now()
	res := Result{}

	if call.Do == nil {
		res.Err = classify.New(classify.CodeInvalidRequest, classify.CategoryValidation, "retry: no attempt function")
		return res
	}

	for {
		res.Attempts++
		attemptStart := e.now()
		err := e.attempt(base, policy, call.Do)
		duration := e.now().Sub(attemptStart)
		metrics.SendLatency.WithLabelValues(string(call.Channel)).Observe(duration.Seconds())

		logEvent := e.logger.With().
			Str("channel", string(call.Channel)).
			Str("correlation_id", call.CorrelationID).
			Int("attempt", res.Attempts).
			Dur("duration", duration).
			Logger()

		if err == nil {
			metrics.SendAttempts.WithLabelValues(string(call.Channel), "success").Inc()
			logEvent.Info().Msg("retry: attempt succeeded")
			res.Duration = e.now().Sub(started)
			return res
		}

		c := classify.Classify(err)
		metrics.SendAttempts.WithLabelValues(string(call.Channel), string(c.Category)).Inc()
		logEvent.Warn().
			Str("code", string(c.Code)).
			Str("category", string(c.Category)).
			Err(err).
			Msg("retry: attempt failed")

		if !c.Retryable() || res.Retries >= retryBudget(policy, c) {
			res.Err = c
			res.Duration = e.now().Sub(started)
			return res
		}

		delay := e.backoff(policy, res.Retries)
		if delay > 0 {
			logEvent.Info().Dur("backoff", delay).Msg("retry: scheduling retry")
		}
		e.sleep(base, delay)
		res.Retries++
	}
}

func (e *Executor) attempt(ctx context.Context, policy Policy, fn AttemptFunc) (err error) {
	if policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("retry: attempt panicked")
			c := classify.New(classify.CodeUnknown, classify.CategoryService, "attempt panicked")
			c.RetryLimit = classify.UnknownRetryLimit
			err = c
		}
	}()
	return fn(ctx)
}

func retryBudget(policy Policy, c *classify.Classification) int {
	limit := policy.MaxRetries
	if limit < 0 {
		limit = 0
	}
	if c.RetryLimit > 0 && c.RetryLimit < limit {
		limit = c.RetryLimit
	}
	return limit
}

func (e *Executor) backoff(policy Policy, retry int) time.Duration {
	d := policy.Delay(retry)
	if !policy.Jitter || d <= 0 {
		return d
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return time.Duration(e.rnd.Int63n(int64(d) + 1))
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
