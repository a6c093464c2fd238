package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/fallback"
	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/providers/twilio"
	"github.com/artisanmart/notifier/internal/ratelimit"
	"github.com/artisanmart/notifier/internal/retry"
	"github.com/artisanmart/notifier/internal/templates"
	"github.com/artisanmart/notifier/internal/tracker"
)

// scriptedSender fails with the queued errors in order, then succeeds.
type scriptedSender struct {
	channel     models.Channel
	validateErr error

	mu    sync.Mutex
	errs  []error
	calls int
	sent  []*common.Outbound
}

func (s *scriptedSender) Channel() models.Channel { return s.channel }

func (s *scriptedSender) Validate(*common.Outbound) error { return s.validateErr }

func (s *scriptedSender) Send(ctx context.Context, msg *common.Outbound) (*common.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sent = append(s.sent, msg)
	if len(s.errs) > 0 {
		err := s.errs[0]
		if len(s.errs) > 1 {
			s.errs = s.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return &common.Receipt{MessageID: string(s.channel) + "-msg", Address: msg.To}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type eventSink struct {
	mu     sync.Mutex
	events []models.DeliveryEvent
}

func (s *eventSink) PublishEvent(_ context.Context, e models.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

type harness struct {
	dispatcher *Dispatcher
	rich       *scriptedSender
	plain      *scriptedSender
	limiter    *ratelimit.MemoryLimiter
	engine     *fallback.Engine
	tracker    *tracker.Tracker
	events     *eventSink
	sleeps     []time.Duration
}

func apiError(status, code int, message string) error {
	return &twilio.APIError{HTTPStatus: status, Code: code, Message: message}
}

func newHarness(t *testing.T, capacities map[models.Channel]int) *harness {
	t.Helper()
	return newHarnessWithConfig(t, capacities, Config{Policy: retry.DefaultPolicy(), MaxFallbackAttempts: 2})
}

func newHarnessWithConfig(t *testing.T, capacities map[models.Channel]int, cfg Config) *harness {
	t.Helper()
	if capacities == nil {
		capacities = map[models.Channel]int{models.ChannelRich: 10, models.ChannelPlain: 10}
	}
	limiter, err := ratelimit.NewMemoryLimiter(capacities)
	require.NoError(t, err)

	h := &harness{
		rich:    &scriptedSender{channel: models.ChannelRich},
		plain:   &scriptedSender{channel: models.ChannelPlain},
		limiter: limiter,
		events:  &eventSink{},
	}
	h.engine = fallback.NewEngine(fallback.Config{RateLimitDelay: 250 * time.Millisecond}, fallback.Dependencies{Logger: zerolog.Nop()})
	h.tracker = tracker.New(tracker.Dependencies{Logger: zerolog.Nop()})
	executor := retry.NewExecutor(retry.Dependencies{
		Logger: zerolog.Nop(),
		Sleep:  func(context.Context, time.Duration) {},
	})
	store := templates.NewMemoryStore(templates.Template{
		Name:     "order_update",
		Language: templates.DefaultLanguage,
		Body:     "Hi {{name}}, order {{order}} shipped",
	})

	d, err := New(cfg, Dependencies{
		Senders:   []common.Sender{h.rich, h.plain},
		Limiter:   limiter,
		Executor:  executor,
		Fallback:  h.engine,
		Tracker:   h.tracker,
		Renderer:  templates.NewRenderer(store),
		Publisher: h.events,
		Logger:    zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) {
			h.sleeps = append(h.sleeps, d)
		},
	})
	require.NoError(t, err)
	h.dispatcher = d
	return h
}

func templateRequest() models.SendRequest {
	return models.SendRequest{
		To:             "+15551112222",
		TemplateName:   "order_update",
		TemplateParams: map[string]string{"name": "Ada", "order": "42"},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	require.Error(t, err)

	limiter, err := ratelimit.NewMemoryLimiter(map[models.Channel]int{models.ChannelPlain: 1})
	require.NoError(t, err)
	_, err = New(Config{}, Dependencies{
		Senders:  []common.Sender{&scriptedSender{channel: models.ChannelPlain}, &scriptedSender{channel: models.ChannelPlain}},
		Limiter:  limiter,
		Fallback: fallback.NewEngine(fallback.Config{}, fallback.Dependencies{}),
		Tracker:  tracker.New(tracker.Dependencies{}),
	})
	require.Error(t, err)
}

func TestSendTemplateOnRichChannel(t *testing.T) {
	h := newHarness(t, nil)

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.True(t, res.Success)
	require.Equal(t, models.ChannelRich, res.Channel)
	require.Equal(t, "rich-msg", res.MessageID)
	require.False(t, res.FallbackUsed)
	require.NotEmpty(t, res.CorrelationID)
	require.Nil(t, res.Error)

	rec, err := h.tracker.Get(context.Background(), "rich-msg")
	require.NoError(t, err)
	require.Equal(t, res.CorrelationID, rec.CorrelationID)
	require.Equal(t, 0, h.plain.callCount())
}

func TestSendTextStartsOnPlainChannel(t *testing.T) {
	h := newHarness(t, nil)

	res := h.dispatcher.Send(context.Background(), models.SendRequest{To: "+15551112222", Message: "hello"})

	require.True(t, res.Success)
	require.Equal(t, models.ChannelPlain, res.Channel)
	require.Equal(t, 0, h.rich.callCount())
}

func TestTemplateNotFoundDoesNotFallBack(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{apiError(404, 0, "template not found")}

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeInvalidTemplate), res.Error.Code)
	require.Equal(t, string(classify.CategoryValidation), res.Error.Category)
	require.False(t, res.FallbackUsed)
	require.Equal(t, 1, h.rich.callCount())
	require.Equal(t, 0, h.plain.callCount())
}

func TestNotOptedInFallsBackToRenderedText(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{apiError(400, 63016, "user not opted in")}

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.True(t, res.Success)
	require.Equal(t, models.ChannelPlain, res.Channel)
	require.True(t, res.FallbackUsed)
	require.Equal(t, 1, res.FallbackAttempts)
	require.Equal(t, "plain-msg", res.MessageID)
	require.Equal(t, 1, h.rich.callCount())
	require.Len(t, h.plain.sent, 1)
	require.Equal(t, "Hi Ada, order 42 shipped", h.plain.sent[0].Text)
	require.Empty(t, h.sleeps)

	attempts := h.engine.Log().Snapshot()
	require.Len(t, attempts, 1)
	require.True(t, attempts[0].Resolved)
	require.True(t, attempts[0].Success)
	require.Equal(t, "plain-msg", attempts[0].MessageID)

	require.Len(t, h.events.events, 1)
	require.Equal(t, models.EventFallbackDecision, h.events.events[0].Type)
	require.Equal(t, "true", h.events.events[0].Meta["should_fallback"])
}

func TestPlainNetworkFailureIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	h.plain.errs = []error{context.DeadlineExceeded}

	res := h.dispatcher.Send(context.Background(), models.SendRequest{To: "+15551112222", Message: "hello"})

	require.False(t, res.Success)
	require.Equal(t, string(classify.CategoryNetwork), res.Error.Category)
	require.Equal(t, 4, h.plain.callCount())
	require.False(t, res.FallbackUsed)
}

func TestValidationFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.plain.errs = []error{apiError(400, 21211, "invalid 'to' number")}

	res := h.dispatcher.Send(context.Background(), models.SendRequest{To: "+15551112222", Message: "hello"})

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeInvalidRecipient), res.Error.Code)
	require.Equal(t, 1, h.plain.callCount())
}

func TestSenderValidationSkipsQuota(t *testing.T) {
	h := newHarness(t, map[models.Channel]int{models.ChannelRich: 1, models.ChannelPlain: 1})
	h.plain.validateErr = classify.New(classify.CodeInvalidRecipient, classify.CategoryValidation, "bad number")

	res := h.dispatcher.Send(context.Background(), models.SendRequest{To: "nope", Message: "hello"})

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeInvalidRecipient), res.Error.Code)
	require.Equal(t, 0, h.plain.callCount())
	ok, err := h.limiter.CanSend(context.Background(), models.ChannelPlain)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRateLimitedChannelFallsBackAfterDelay(t *testing.T) {
	h := newHarness(t, map[models.Channel]int{models.ChannelRich: 1, models.ChannelPlain: 5})
	ok, err := h.limiter.Consume(context.Background(), models.ChannelRich)
	require.NoError(t, err)
	require.True(t, ok)

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.True(t, res.Success)
	require.Equal(t, models.ChannelPlain, res.Channel)
	require.True(t, res.FallbackUsed)
	require.Equal(t, 0, h.rich.callCount())
	require.Equal(t, []time.Duration{250 * time.Millisecond}, h.sleeps)
}

func TestFallbackDisabledByRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{apiError(400, 63016, "user not opted in")}
	disabled := false
	req := templateRequest()
	req.EnableFallback = &disabled

	res := h.dispatcher.Send(context.Background(), req)

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeUserNotOptedIn), res.Error.Code)
	require.Equal(t, models.ChannelRich, res.Channel)
	require.Equal(t, 0, h.plain.callCount())
	require.Zero(t, h.engine.Log().Len())
}

func TestUnsetMaxFallbackAttemptsUsesDefault(t *testing.T) {
	h := newHarnessWithConfig(t, nil, Config{Policy: retry.DefaultPolicy()})
	h.rich.errs = []error{apiError(400, 63016, "user not opted in")}

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.True(t, res.Success)
	require.Equal(t, models.ChannelPlain, res.Channel)
	require.True(t, res.FallbackUsed)
	require.Equal(t, 1, res.FallbackAttempts)
	require.Equal(t, 1, h.plain.callCount())
}

func TestFallbackDisabledByConfig(t *testing.T) {
	h := newHarnessWithConfig(t, nil, Config{Policy: retry.DefaultPolicy(), DisableFallback: true})
	h.rich.errs = []error{apiError(400, 63016, "user not opted in")}

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.False(t, res.Success)
	require.Equal(t, models.ChannelRich, res.Channel)
	require.False(t, res.FallbackUsed)
	require.Equal(t, string(classify.CodeUserNotOptedIn), res.Error.Code)
	require.Equal(t, 0, h.plain.callCount())
	require.Equal(t, 0, h.engine.Log().Len())
}

func TestMissingSenderIsConfigurationFailure(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(map[models.Channel]int{models.ChannelRich: 10, models.ChannelPlain: 10})
	require.NoError(t, err)
	plain := &scriptedSender{channel: models.ChannelPlain}
	engine := fallback.NewEngine(fallback.Config{}, fallback.Dependencies{Logger: zerolog.Nop()})
	d, err := New(Config{Policy: retry.DefaultPolicy()}, Dependencies{
		Senders:  []common.Sender{plain},
		Limiter:  limiter,
		Fallback: engine,
		Tracker:  tracker.New(tracker.Dependencies{Logger: zerolog.Nop()}),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	res := d.Send(context.Background(), templateRequest())

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeChannelUnavailable), res.Error.Code)
	require.Equal(t, string(classify.CategoryConfiguration), res.Error.Category)
	require.False(t, res.FallbackUsed)
	require.Equal(t, 0, plain.callCount())

	attempts := engine.Log().Snapshot()
	require.Len(t, attempts, 1)
	require.False(t, attempts[0].ShouldFallback)
	require.Equal(t, classify.CodeChannelUnavailable, attempts[0].Code)
}

func TestFallbackTargetFailureResolvesAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{apiError(400, 21610, "blocked")}
	h.plain.errs = []error{apiError(400, 21211, "invalid 'to' number")}

	res := h.dispatcher.Send(context.Background(), templateRequest())

	require.False(t, res.Success)
	require.Equal(t, models.ChannelPlain, res.Channel)
	require.True(t, res.FallbackUsed)

	attempts := h.engine.Log().Snapshot()
	require.Len(t, attempts, 2)
	require.True(t, attempts[0].Resolved)
	require.False(t, attempts[0].Success)
	require.False(t, attempts[1].ShouldFallback)
}

func TestMissingTemplateParamOnFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{apiError(400, 63016, "user not opted in")}
	req := templateRequest()
	req.TemplateParams = map[string]string{"name": "Ada"}

	res := h.dispatcher.Send(context.Background(), req)

	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeMissingTemplateParam), res.Error.Code)
	require.Equal(t, 0, h.plain.callCount())
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nil)

	res := h.dispatcher.Send(context.Background(), models.SendRequest{To: "+15551112222", Message: "hi", Priority: "urgent"})
	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeInvalidRequest), res.Error.Code)

	meta := map[string]string{}
	for i := 0; i < 30; i++ {
		meta[string(rune('a'+i%26))+string(rune('a'+i/26))] = "v"
	}
	res = h.dispatcher.Send(context.Background(), models.SendRequest{To: "+15551112222", Message: "hi", Metadata: meta})
	require.False(t, res.Success)
	require.Equal(t, string(classify.CodeInvalidRequest), res.Error.Code)
	require.Equal(t, 0, h.plain.callCount())
}

func TestCallerCancellationDoesNotAbort(t *testing.T) {
	h := newHarness(t, nil)
	h.rich.errs = []error{errors.New("service unavailable"), nil}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.dispatcher.Send(ctx, templateRequest())

	require.True(t, res.Success)
	require.Equal(t, 2, h.rich.callCount())
}
