package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/artisanmart/notifier/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for a message id.
	ErrNotFound = errors.New("tracker: record not found")
	// ErrExists is returned when a record is created twice.
	ErrExists = errors.New("tracker: record already exists")
	// ErrInvalidEvent is returned for status events without a message id.
	ErrInvalidEvent = errors.New("tracker: status event has no message id")
)

// Transition is one applied status change.
type Transition struct {
	Status       models.DeliveryStatus `json:"status"`
	At           time.Time             `json:"at"`
	ErrorCode    string                `json:"errorCode,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
}

// Record is the delivery state of one gateway message.
type Record struct {
	MessageID     string                `json:"messageId"`
	CorrelationID string                `json:"correlationId,omitempty"`
	Recipient     string                `json:"recipient"`
	Address       string                `json:"address,omitempty"`
	Channel       models.Channel        `json:"channel"`
	Status        models.DeliveryStatus `json:"status"`
	Transitions   []Transition          `json:"transitions"`
	ErrorCode     string                `json:"errorCode,omitempty"`
	ErrorMessage  string                `json:"errorMessage,omitempty"`
	// DiagnosticCode keeps an error code reported alongside a non failed status.
	DiagnosticCode string    `json:"diagnosticCode,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	SentAt         time.Time `json:"sentAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if len(r.Transitions) > 0 {
		out.Transitions = make([]Transition, len(r.Transitions))
		copy(out.Transitions, r.Transitions)
	}
	return &out
}

// DeliveredAt returns the first time the message reached delivered or read.
func (r *Record) DeliveredAt() (time.Time, bool) {
	for _, t := range r.Transitions {
		if t.Status.Delivered() {
			return t.At, true
		}
	}
	return time.Time{}, false
}

// apply merges a status into the record. Non failed statuses are applied only
// when they rank strictly higher than the current one; failed is applied from
// any non terminal state. It reports whether the record changed.
func (r *Record) apply(status models.DeliveryStatus, at time.Time, errCode, errMsg string) bool {
	if r.Status.Terminal() {
		return false
	}
	switch {
	case status == models.StatusFailed:
		r.ErrorCode = errCode
		r.ErrorMessage = errMsg
	case status.Rank() > r.Status.Rank():
		if errCode != "" {
			r.DiagnosticCode = errCode
		}
	default:
		return false
	}
	r.Status = status
	r.Transitions = append(r.Transitions, Transition{
		Status:       status,
		At:           at,
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
	})
	r.UpdatedAt = at
	return true
}

// UpdateFunc mutates a record copy and reports whether it must be saved.
type UpdateFunc func(rec *Record) (bool, error)

// Store persists delivery records. Update must run fn under mutual exclusion
// for the record so concurrent merges serialise.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, messageID string, fn UpdateFunc) (*Record, bool, error)
	Get(ctx context.Context, messageID string) (*Record, error)
	// ListSent returns records with from <= SentAt < to. Zero bounds are open.
	ListSent(ctx context.Context, from, to time.Time) ([]*Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
