// Package tracker owns the delivery state machine of dispatched messages.
//
// Records move monotonically along queued, sent, delivered, read, with failed
// reachable from any non terminal state. Status callbacks may arrive twice or
// out of order; a status that does not advance the record is dropped, so the
// merge is idempotent.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/metrics"
	"github.com/artisanmart/notifier/internal/models"
)

// DefaultOrphanLogSize bounds the orphan diagnostics list.
const DefaultOrphanLogSize = 500

// Outcome describes what a status callback did to the tracked state.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeStale   Outcome = "stale"
	OutcomeOrphan  Outcome = "orphan"
)

// EventPublisher receives delivery events. Publishing is best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.DeliveryEvent) error
}

// TrackRequest registers an accepted outbound message.
type TrackRequest struct {
	MessageID     string
	CorrelationID string
	Recipient     string
	Channel       models.Channel
	// Address is the gateway formatted destination, e.g. whatsapp:+15550001111.
	Address string
}

// OrphanEvent is a callback for a message this tracker does not know.
type OrphanEvent struct {
	Event      models.StatusEvent `json:"event"`
	Source     string             `json:"source"`
	ReceivedAt time.Time          `json:"receivedAt"`
}

// Report aggregates records whose sent timestamp falls in a range.
type Report struct {
	From                 time.Time     `json:"from,omitempty"`
	To                   time.Time     `json:"to,omitempty"`
	TotalMessages        int           `json:"totalMessages"`
	SuccessfulDeliveries int           `json:"successfulDeliveries"`
	FailedDeliveries     int           `json:"failedDeliveries"`
	SuccessRate          float64       `json:"successRate"`
	AverageDeliveryTime  time.Duration `json:"-"`
	AverageDeliveryMs    int64         `json:"averageDeliveryTimeMs"`
}

// Dependencies collects the collaborators of a Tracker.
type Dependencies struct {
	Store         Store
	Publisher     EventPublisher
	OrphanLogSize int
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Tracker ingests outbound registrations and inbound status callbacks.
type Tracker struct {
	store     Store
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time

	orphanMu  sync.Mutex
	orphans   []OrphanEvent
	orphanCap int
}

// New constructs a Tracker. A nil store defaults to an in-memory store.
func New(deps Dependencies) *Tracker {
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "delivery_tracker").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	orphanCap := deps.OrphanLogSize
	if orphanCap <= 0 {
		orphanCap = DefaultOrphanLogSize
	}

	return &Tracker{
		store:     store,
		publisher: deps.Publisher,
		logger:    logger,
		now:       nowFunc,
		orphanCap: orphanCap,
	}
}

// TrackMessage creates the record in queued state and advances it to sent,
// since the gateway has already accepted the call.
func (t *Tracker) TrackMessage(ctx context.Context, req TrackRequest) (*Record, error) {
	if strings.TrimSpace(req.MessageID) == "" {
		return nil, errors.New("tracker: message id is required")
	}
	now := t.now()
	rec := &Record{
		MessageID:     req.MessageID,
		CorrelationID: req.CorrelationID,
		Recipient:     req.Recipient,
		Address:       req.Address,
		Channel:       req.Channel,
		Status:        models.StatusQueued,
		Transitions:   []Transition{{Status: models.StatusQueued, At: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.apply(models.StatusSent, now, "", "")
	rec.SentAt = now

	if err := t.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("tracker: track %s: %w", req.MessageID, err)
	}

	t.logger.Info().
		Str("message_id", rec.MessageID).
		Str("correlation_id", rec.CorrelationID).
		Str("channel", string(rec.Channel)).
		Msg("tracker: tracking started")
	t.publish(ctx, models.DeliveryEvent{
		Type:          models.EventTrackingStarted,
		MessageID:     rec.MessageID,
		CorrelationID: rec.CorrelationID,
		Channel:       rec.Channel,
		Status:        rec.Status,
		Timestamp:     now,
	})
	return rec.Clone(), nil
}

// ProcessWebhook merges a status callback. Callbacks for unknown messages are
// kept in the orphan list and never fail ingestion.
func (t *Tracker) ProcessWebhook(ctx context.Context, event models.StatusEvent, source string) (Outcome, error) {
	event.MessageID = strings.TrimSpace(event.MessageID)
	if event.MessageID == "" {
		return "", ErrInvalidEvent
	}
	if source == "" {
		source = "http"
	}
	status := models.NormalizeStatus(event.Status)
	at := t.eventTime(event.Timestamp)

	rec, changed, err := t.store.Update(ctx, event.MessageID, func(rec *Record) (bool, error) {
		return rec.apply(status, at, event.ErrorCode, event.ErrorMessage), nil
	})
	logEvent := t.logger.With().
		Str("message_id", event.MessageID).
		Str("status", string(status)).
		Str("raw_status", event.Status).
		Str("source", source).
		Logger()

	if errors.Is(err, ErrNotFound) {
		t.addOrphan(OrphanEvent{Event: event, Source: source, ReceivedAt: t.now()})
		metrics.WebhookEvents.WithLabelValues(source, string(OutcomeOrphan)).Inc()
		logEvent.Warn().Msg("tracker: status callback for unknown message")
		return OutcomeOrphan, nil
	}
	if err != nil {
		logEvent.Error().Err(err).Msg("tracker: failed to merge status callback")
		return "", err
	}
	if !changed {
		metrics.WebhookEvents.WithLabelValues(source, string(OutcomeStale)).Inc()
		logEvent.Debug().Str("current", string(rec.Status)).Msg("tracker: stale status callback dropped")
		return OutcomeStale, nil
	}

	metrics.WebhookEvents.WithLabelValues(source, string(OutcomeApplied)).Inc()
	logEvent.Info().Msg("tracker: status applied")
	t.publish(ctx, models.DeliveryEvent{
		Type:          models.EventStatusChanged,
		MessageID:     rec.MessageID,
		CorrelationID: rec.CorrelationID,
		Channel:       rec.Channel,
		Status:        rec.Status,
		ErrorCode:     event.ErrorCode,
		ErrorMessage:  event.ErrorMessage,
		Timestamp:     at,
	})
	return OutcomeApplied, nil
}

// Get returns the record of a message.
func (t *Tracker) Get(ctx context.Context, messageID string) (*Record, error) {
	return t.store.Get(ctx, messageID)
}

// Timeline returns the ordered transitions of a message.
func (t *Tracker) Timeline(ctx context.Context, messageID string) ([]Transition, error) {
	rec, err := t.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return rec.Transitions, nil
}

// GetDeliveryReport aggregates records sent in [from, to). SuccessRate is a
// percentage; AverageDeliveryTime spans sent to first delivered or read.
func (t *Tracker) GetDeliveryReport(ctx context.Context, from, to time.Time) (Report, error) {
	recs, err := t.store.ListSent(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	rep := Report{From: from, To: to, TotalMessages: len(recs)}
	var total time.Duration
	timed := 0
	for _, rec := range recs {
		switch {
		case rec.Status.Delivered():
			rep.SuccessfulDeliveries++
			if at, ok := rec.DeliveredAt(); ok {
				if d := at.Sub(rec.SentAt); d > 0 {
					total += d
				}
				timed++
			}
		case rec.Status == models.StatusFailed:
			rep.FailedDeliveries++
		}
	}
	if rep.TotalMessages > 0 {
		rep.SuccessRate = float64(rep.SuccessfulDeliveries) / float64(rep.TotalMessages) * 100
	}
	if timed > 0 {
		rep.AverageDeliveryTime = total / time.Duration(timed)
		rep.AverageDeliveryMs = rep.AverageDeliveryTime.Milliseconds()
	}
	return rep, nil
}

// Orphans returns the retained orphan callbacks, oldest first.
func (t *Tracker) Orphans() []OrphanEvent {
	t.orphanMu.Lock()
	defer t.orphanMu.Unlock()
	out := make([]OrphanEvent, len(t.orphans))
	copy(out, t.orphans)
	return out
}

// Prune evicts records and orphan callbacks older than cutoff.
func (t *Tracker) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := t.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordsPruned.WithLabelValues("delivery_record").Add(float64(n))
	}

	t.orphanMu.Lock()
	keep := t.orphans[:0]
	dropped := 0
	for _, o := range t.orphans {
		if o.ReceivedAt.Before(cutoff) {
			dropped++
			continue
		}
		keep = append(keep, o)
	}
	t.orphans = keep
	t.orphanMu.Unlock()
	if dropped > 0 {
		metrics.RecordsPruned.WithLabelValues("orphan_event").Add(float64(dropped))
	}
	return n + dropped, nil
}

func (t *Tracker) addOrphan(o OrphanEvent) {
	t.orphanMu.Lock()
	defer t.orphanMu.Unlock()
	if len(t.orphans) >= t.orphanCap {
		copy(t.orphans, t.orphans[1:])
		t.orphans = t.orphans[:len(t.orphans)-1]
	}
	t.orphans = append(t.orphans, o)
}

func (t *Tracker) publish(ctx context.Context, event models.DeliveryEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishEvent(ctx, event); err != nil {
		t.logger.Error().
			Str("message_id", event.MessageID).
			Str("event", event.Type).
			Err(err).
			Msg("tracker: failed to publish delivery event")
	}
}

// eventTime accepts RFC 3339 or unix seconds/milliseconds and falls back to now.
func (t *Tracker) eventTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return t.now()
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC1123Z, raw); err == nil {
		return ts
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	return t.now()
}
