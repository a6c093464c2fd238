package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/providers/twilio"
)

// Sender is the subset of the Twilio client used by the provider.
type Sender interface {
	Send(ctx context.Context, msg twilio.Message) (*twilio.Response, error)
}

// TwilioOption customises the Twilio provider.
type TwilioOption func(*TwilioProvider)

// WithContentSIDs maps template names to approved content SIDs. A key of the
// form name:language takes precedence over the bare name.
func WithContentSIDs(sids map[string]string) TwilioOption {
	return func(p *TwilioProvider) {
		for k, v := range sids {
			p.contentSIDs[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// WithTwilioClock overrides the clock used to timestamp responses.
func WithTwilioClock(now func() time.Time) TwilioOption {
	return func(p *TwilioProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// TwilioProvider sends WhatsApp messages through the Twilio Messages API.
type TwilioProvider struct {
	logger      zerolog.Logger
	client      Sender
	from        string
	contentSIDs map[string]string
	now         func() time.Time
}

// NewTwilioProvider constructs the provider. from is the WhatsApp enabled number.
func NewTwilioProvider(client Sender, from string, logger zerolog.Logger, opts ...TwilioOption) (*TwilioProvider, error) {
	if client == nil {
		return nil, errors.New("whatsapp twilio: client is required")
	}
	from = twilio.FormatWhatsAppAddress(from)
	if from == "" {
		return nil, errors.New("whatsapp twilio: sender number is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &TwilioProvider{
		logger:      logger.With().Str("component", "whatsapp_twilio_provider").Logger(),
		client:      client,
		from:        from,
		contentSIDs: map[string]string{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Send posts the payload to Twilio.
func (p *TwilioProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("whatsapp twilio: payload is required")
	}
	msg := twilio.Message{
		From: p.from,
		To:   twilio.FormatWhatsAppAddress(payload.To),
		Body: payload.Body,
	}
	if payload.IsTemplate() {
		sid, err := p.contentSID(payload.TemplateName, payload.Language)
		if err != nil {
			return nil, err
		}
		msg.ContentSID = sid
		msg.ContentVariables = payload.TemplateParams
	}

	resp, err := p.client.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("correlation_id", payload.CorrelationID).
		Str("sid", resp.SID).
		Msg("whatsapp twilio: message accepted")
	return &RawResponse{
		ID:        resp.SID,
		Code:      resp.HTTPStatus,
		Status:    resp.Status,
		Body:      resp.Body,
		Timestamp: p.now(),
	}, nil
}

// contentSID resolves a template name. Names that already are content SIDs
// pass through unchanged.
func (p *TwilioProvider) contentSID(name, language string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if lang := strings.ToLower(strings.TrimSpace(language)); lang != "" {
		if sid, ok := p.contentSIDs[key+":"+lang]; ok {
			return sid, nil
		}
	}
	if sid, ok := p.contentSIDs[key]; ok {
		return sid, nil
	}
	if strings.HasPrefix(name, "HX") {
		return name, nil
	}
	return "", fmt.Errorf("whatsapp twilio: template not found: %s", name)
}
