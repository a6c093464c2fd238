package whatsapp

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
	"github.com/artisanmart/notifier/internal/providers/twilio"
	waprovider "github.com/artisanmart/notifier/internal/providers/whatsapp"
	"github.com/artisanmart/notifier/internal/util"
)

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

// Adapter is the rich channel sender. It only carries approved templates.
type Adapter struct {
	logger      zerolog.Logger
	provider    waprovider.Provider
	maxRawChars int
}

var _ common.Sender = (*Adapter)(nil)

// NewAdapter constructs a WhatsApp adapter.
func NewAdapter(provider waprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("whatsapp adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger.With().Str("component", "whatsapp_adapter").Logger(),
		provider:    provider,
		maxRawChars: common.DefaultRawBodyLimit,
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
	return models.ChannelRich
}

// Validate implements common.Sender.
func (a *Adapter) Validate(msg *common.Outbound) error {
	_, err := a.buildPayload(msg)
	return err
}

// Send validates the message for the rich channel and delegates to the provider.
func (a *Adapter) Send(ctx context.Context, msg *common.Outbound) (*common.Receipt, error) {
	payload, err := a.buildPayload(msg)
	if err != nil {
		return nil, err
	}

	raw, err := a.provider.Send(ctx, payload)
	if err != nil {
		a.logger.Warn().
			Str("correlation_id", msg.CorrelationID).
			Str("template", payload.TemplateName).
			Err(err).
			Msg("whatsapp adapter send failed")
		return nil, fmt.Errorf("whatsapp adapter: %w", err)
	}

	resp := common.NewProviderResponse(raw.ID, raw.Status, raw.Code, raw.Body, raw.Timestamp, a.maxRawChars)
	a.logger.Debug().
		Str("correlation_id", msg.CorrelationID).
		Str("provider_id", raw.ID).
		Str("provider_status", raw.Status).
		Msg("whatsapp adapter send succeeded")
	return &common.Receipt{
		MessageID: raw.ID,
		Address:   twilio.FormatWhatsAppAddress(payload.To),
		Response:  resp,
	}, nil
}

func (a *Adapter) buildPayload(msg *common.Outbound) (*waprovider.Payload, error) {
	if msg == nil {
		return nil, classify.New(classify.CodeInvalidRequest, classify.CategoryValidation, "whatsapp adapter: message is nil")
	}
	to, err := util.NormalizeE164(msg.To)
	if err != nil {
		return nil, classify.New(classify.CodeInvalidRecipient, classify.CategoryValidation, err.Error()).WithCause(err)
	}
	if strings.TrimSpace(msg.TemplateName) == "" {
		return nil, classify.New(classify.CodeUnsupportedContent, classify.CategoryValidation,
			"rich channel requires an approved template")
	}
	name, err := util.ValidateTemplateName(msg.TemplateName)
	if err != nil {
		return nil, classify.New(classify.CodeInvalidTemplate, classify.CategoryValidation, err.Error()).WithCause(err)
	}

	var meta map[string]string
	if len(msg.Meta) > 0 {
		meta = make(map[string]string, len(msg.Meta))
		for k, v := range msg.Meta {
			meta[k] = v
		}
	}
	return &waprovider.Payload{
		CorrelationID:  msg.CorrelationID,
		To:             to,
		BodyType:       models.BodyTypeTemplate,
		Body:           msg.Text,
		TemplateName:   name,
		TemplateParams: msg.TemplateParams,
		Language:       msg.Language,
		Meta:           meta,
	}, nil
}
