package common

import (
	"context"

	"github.com/artisanmart/notifier/internal/models"
)

// Sender delivers a single outbound message on one channel. Content the
// channel cannot carry is rejected with a classified validation error;
// gateway failures are returned unclassified for the retry layer.
type Sender interface {
	Channel() models.Channel
	// Validate checks msg without contacting the gateway.
	Validate(msg *Outbound) error
	Send(ctx context.Context, msg *Outbound) (*Receipt, error)
}

// Outbound is the channel neutral message handed to a Sender.
type Outbound struct {
	CorrelationID  string
	To             string
	Text           string
	TemplateName   string
	TemplateParams map[string]string
	Language       string
	Meta           map[string]string
}

// Receipt is returned once the gateway accepted a message.
type Receipt struct {
	MessageID string
	// Address is the gateway formatted destination.
	Address  string
	Response *ProviderResponse
}
