package whatsapp

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/providers/twilio"
)

// Option customises the mock provider at construction time.
type Option func(*MockProvider)

// WithScenario overrides the default scenario.
func WithScenario(s twilio.Scenario) Option {
	return func(p *MockProvider) {
		p.defaultScenario = s
	}
}

// WithLatency sets the artificial latency inserted before responding.
func WithLatency(d time.Duration) Option {
	return func(p *MockProvider) {
		if d < 0 {
			d = 0
		}
		p.latency = d
	}
}

// WithClock swaps out the clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider implements a deterministic WhatsApp provider suitable for tests
// and local runs.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario twilio.Scenario
	latency         time.Duration
	now             func() time.Time
	calls           atomic.Int64
}

// NewMockProvider constructs a new mock WhatsApp provider.
func NewMockProvider(logger zerolog.Logger, opts ...Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:          logger.With().Str("component", "whatsapp_mock_provider").Logger(),
		defaultScenario: twilio.ScenarioSuccess,
		latency:         25 * time.Millisecond,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Calls returns how many sends reached the provider.
func (p *MockProvider) Calls() int {
	return int(p.calls.Load())
}

// Send simulates a WhatsApp send for the configured or requested scenario.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("whatsapp mock: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("whatsapp mock: recipient is required")
	}
	if payload.IsTemplate() && strings.TrimSpace(payload.TemplateName) == "" {
		return nil, errors.New("whatsapp mock: template name is required")
	}
	p.calls.Add(1)

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	scenario := p.defaultScenario
	if val, ok := payload.Meta["scenario"]; ok && strings.TrimSpace(val) != "" {
		scenario = twilio.ParseScenario(val)
	}

	resp, err := twilio.Simulate(ctx, scenario)
	if err != nil {
		p.logger.Debug().
			Str("correlation_id", payload.CorrelationID).
			Str("scenario", string(scenario)).
			Err(err).
			Msg("whatsapp mock: simulated failure")
		return nil, err
	}
	return &RawResponse{
		ID:        "MM" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Code:      resp.HTTPStatus,
		Status:    resp.Status,
		Body:      `{"status":"queued"}`,
		Timestamp: p.now(),
	}, nil
}
