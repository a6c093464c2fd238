package whatsapp

import (
	"context"
	"time"

	"github.com/artisanmart/notifier/internal/models"
)

// Payload encapsulates the WhatsApp message to be sent via a provider.
// BodyType is models.BodyTypeTemplate or models.BodyTypeText.
type Payload struct {
	CorrelationID  string
	To             string
	BodyType       string
	Body           string
	TemplateName   string
	TemplateParams map[string]string
	Language       string
	Meta           map[string]string
}

// IsTemplate reports whether the payload references an approved template.
func (p *Payload) IsTemplate() bool {
	return p.BodyType == models.BodyTypeTemplate
}

// RawResponse captures the low-level provider response for a WhatsApp send.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider represents an outbound WhatsApp provider (e.g. Twilio or Meta API).
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
