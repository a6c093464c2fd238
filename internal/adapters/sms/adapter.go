package sms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/models"
	smsprovider "github.com/artisanmart/notifier/internal/providers/sms"
	"github.com/artisanmart/notifier/internal/util"
)

// DefaultMaxBodyRunes is the longest body accepted, ten concatenated segments.
const DefaultMaxBodyRunes = 1600

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides the maximum number of characters retained from the provider body.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// WithMaxBodyRunes overrides the body length limit.
func WithMaxBodyRunes(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxBodyRunes = limit
		}
	}
}

// Adapter is the plain text channel sender.
type Adapter struct {
	logger       zerolog.Logger
	provider     smsprovider.Provider
	maxRawChars  int
	maxBodyRunes int
}

var _ common.Sender = (*Adapter)(nil)

// NewAdapter constructs an SMS adapter.
func NewAdapter(provider smsprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("sms adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	a := &Adapter{
		logger:       logger.With().Str("component", "sms_adapter").Logger(),
		provider:     provider,
		maxRawChars:  common.DefaultRawBodyLimit,
		maxBodyRunes: DefaultMaxBodyRunes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Channel implements common.Sender.
func (a *Adapter) Channel() models.Channel {
	return models.ChannelPlain
}

// Validate implements common.Sender.
func (a *Adapter) Validate(msg *common.Outbound) error {
	_, _, err := a.validate(msg)
	return err
}

func (a *Adapter) validate(msg *common.Outbound) (string, string, error) {
	if msg == nil {
		return "", "", classify.New(classify.CodeInvalidRequest, classify.CategoryValidation, "sms adapter: message is nil")
	}
	to, err := util.NormalizeE164(msg.To)
	if err != nil {
		return "", "", classify.New(classify.CodeInvalidRecipient, classify.CategoryValidation, err.Error()).WithCause(err)
	}
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		return "", "", classify.New(classify.CodeUnsupportedContent, classify.CategoryValidation,
			"plain channel requires message text")
	}
	if err := util.EnsureMaxRunes("message", body, a.maxBodyRunes); err != nil {
		return "", "", classify.New(classify.CodeInvalidRequest, classify.CategoryValidation, err.Error()).WithCause(err)
	}
	return to, body, nil
}

// Send validates the text message and delegates to the provider.
func (a *Adapter) Send(ctx context.Context, msg *common.Outbound) (*common.Receipt, error) {
	to, body, err := a.validate(msg)
	if err != nil {
		return nil, err
	}

	raw, err := a.provider.Send(ctx, &smsprovider.Payload{
		CorrelationID: msg.CorrelationID,
		To:            to,
		Body:          body,
		Meta:          msg.Meta,
	})
	if err != nil {
		a.logger.Warn().
			Str("correlation_id", msg.CorrelationID).
			Err(err).
			Msg("sms adapter send failed")
		return nil, fmt.Errorf("sms adapter: %w", err)
	}

	a.logger.Debug().
		Str("correlation_id", msg.CorrelationID).
		Str("provider_id", raw.ID).
		Str("provider_status", raw.Status).
		Msg("sms adapter send succeeded")
	return &common.Receipt{
		MessageID: raw.ID,
		Address:   to,
		Response:  common.NewProviderResponse(raw.ID, raw.Status, raw.Code, raw.Body, raw.Timestamp, a.maxRawChars),
	}, nil
}
