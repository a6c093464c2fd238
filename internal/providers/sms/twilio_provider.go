package sms

import (
	"context"
	"errors"
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

// TwilioProvider sends plain text messages through the Twilio Messages API.
type TwilioProvider struct {
	logger zerolog.Logger
	client Sender
	from   string
	now    func() time.Time
}

// NewTwilioProvider constructs the provider. from is the sending number.
func NewTwilioProvider(client Sender, from string, logger zerolog.Logger) (*TwilioProvider, error) {
	if client == nil {
		return nil, errors.New("sms twilio: client is required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("sms twilio: sender number is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &TwilioProvider{
		logger: logger.With().Str("component", "sms_twilio_provider").Logger(),
		client: client,
		from:   from,
		now:    time.Now,
	}, nil
}

// Send posts the payload to Twilio.
func (p *TwilioProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("sms twilio: payload is required")
	}
	resp, err := p.client.Send(ctx, twilio.Message{From: p.from, To: payload.To, Body: payload.Body})
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("correlation_id", payload.CorrelationID).
		Str("sid", resp.SID).
		Msg("sms twilio: message accepted")
	return &RawResponse{
		ID:        resp.SID,
		Code:      resp.HTTPStatus,
		Status:    resp.Status,
		Body:      resp.Body,
		Timestamp: p.now(),
	}, nil
}
