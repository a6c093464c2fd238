package models

import (
	"strings"
	"time"
)

// DeliveryStatus is the lifecycle state of a dispatched message.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Rank orders the non failure states: queued < sent < delivered < read.
// Failed has no rank of its own; it is reachable from any non terminal state.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transition may be applied.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// Delivered reports whether the message reached the handset.
func (s DeliveryStatus) Delivered() bool {
	return s == StatusDelivered || s == StatusRead
}

// NormalizeStatus maps a gateway status string onto a DeliveryStatus.
// Unrecognised values map to sent rather than being rejected.
func NormalizeStatus(raw string) DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "accepted", "scheduled":
		return StatusQueued
	case "sent", "submitted", "sending":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	case "failed", "rejected", "error", "undelivered":
		return StatusFailed
	default:
		return StatusSent
	}
}

// StatusEvent is an inbound delivery status callback from the gateway.
type StatusEvent struct {
	MessageID    string `json:"messageId"`
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Delivery event types published for downstream consumers.
const (
	EventTrackingStarted  = "tracking_started"
	EventStatusChanged    = "status_changed"
	EventFallbackDecision = "fallback_decision"
)

// DeliveryEvent is the outbound record published whenever tracked state changes.
type DeliveryEvent struct {
	Type          string            `json:"type"`
	MessageID     string            `json:"message_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Channel       Channel           `json:"channel,omitempty"`
	Status        DeliveryStatus    `json:"status,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
