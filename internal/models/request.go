package models

import (
	"strings"
	"time"
)

// Channel identifies a messaging transport.
type Channel string

const (
	// ChannelRich is the template based rich messaging channel (WhatsApp).
	ChannelRich Channel = "rich"
	// ChannelPlain is the plain text channel (SMS). It is the last hop of every
	// fallback chain.
	ChannelPlain Channel = "plain"
)

// ParseChannel normalises a channel name. Provider names are accepted as aliases.
func ParseChannel(value string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rich", "whatsapp":
		return ChannelRich, true
	case "plain", "sms":
		return ChannelPlain, true
	default:
		return "", false
	}
}

// Priority is the caller supplied urgency tier of a notification.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Body types understood by the rich channel provider payloads.
const (
	BodyTypeText     = "text"
	BodyTypeTemplate = "template"
)

// SendRequest is the dispatch request accepted by the dispatcher.
type SendRequest struct {
	To                  string            `json:"to"`
	Message             string            `json:"message,omitempty"`
	TemplateName        string            `json:"templateName,omitempty"`
	TemplateParams      map[string]string `json:"templateParams,omitempty"`
	Language            string            `json:"language,omitempty"`
	Priority            Priority          `json:"priority,omitempty"`
	EnableFallback      *bool             `json:"enableFallback,omitempty"`
	MaxFallbackAttempts *int              `json:"maxFallbackAttempts,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// ParsePriority validates a priority, defaulting to medium when empty.
func ParsePriority(value Priority) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(string(value)))) {
	case "", PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// HasTemplate reports whether the request references a template.
func (r SendRequest) HasTemplate() bool {
	return strings.TrimSpace(r.TemplateName) != ""
}

// ErrorDetail is the caller visible classification of a failed dispatch.
type ErrorDetail struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// NotificationResult is returned by the dispatcher for every send.
type NotificationResult struct {
	Success          bool         `json:"success"`
	MessageID        string       `json:"messageId,omitempty"`
	CorrelationID    string       `json:"correlationId"`
	Channel          Channel      `json:"channel"`
	FallbackUsed     bool         `json:"fallbackUsed"`
	FallbackAttempts int          `json:"fallbackAttempts"`
	Error            *ErrorDetail `json:"error,omitempty"`
}

// Content references what is sent: raw text, a template, or both.
type Content struct {
	Text           string            `json:"text,omitempty"`
	TemplateName   string            `json:"template_name,omitempty"`
	TemplateParams map[string]string `json:"template_params,omitempty"`
	Language       string            `json:"language,omitempty"`
}

// Message is a single logical notification. Channel and GatewayMessageID are
// the only fields that change after creation.
type Message struct {
	CorrelationID    string    `json:"correlation_id"`
	GatewayMessageID string    `json:"gateway_message_id,omitempty"`
	To               string    `json:"to"`
	Channel          Channel   `json:"channel"`
	Content          Content   `json:"content"`
	Priority         Priority  `json:"priority"`
	CreatedAt        time.Time `json:"created_at"`
}
