package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/models"
)

type captured struct {
	topic   string
	key     string
	headers map[string][]byte
	payload []byte
}

type fakeProducer struct {
	records []captured
	err     error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, captured{topic: topic, key: string(key), headers: headers, payload: payload})
	return nil
}

func TestPublishEventKeysByMessageID(t *testing.T) {
	prod := &fakeProducer{}
	p, err := NewEventPublisher(prod, "notification.events", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := models.DeliveryEvent{
		Type:          models.EventStatusChanged,
		MessageID:     "SM1",
		CorrelationID: "corr-1",
		Channel:       models.ChannelRich,
		Status:        models.StatusDelivered,
		Timestamp:     time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	if err := p.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(prod.records) != 1 {
		t.Fatalf("expected one record, got %d", len(prod.records))
	}
	rec := prod.records[0]
	if rec.topic != "notification.events" || rec.key != "SM1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if string(rec.headers["event-type"]) != models.EventStatusChanged {
		t.Fatalf("unexpected headers %v", rec.headers)
	}
	var decoded models.DeliveryEvent
	if err := json.Unmarshal(rec.payload, &decoded); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if decoded.Status != models.StatusDelivered || decoded.CorrelationID != "corr-1" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestPublishFallbackDecisionKeysByCorrelationID(t *testing.T) {
	prod := &fakeProducer{}
	p, err := NewEventPublisher(prod, "notification.events", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishEvent(context.Background(), models.DeliveryEvent{Type: models.EventFallbackDecision, CorrelationID: "corr-9"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prod.records[0].key != "corr-9" {
		t.Fatalf("expected correlation id key, got %q", prod.records[0].key)
	}
}

func TestPublishEventErrors(t *testing.T) {
	if _, err := NewEventPublisher(nil, "topic", zerolog.Nop()); !errors.Is(err, ErrProducerNotInitialised) {
		t.Fatalf("expected not initialised error, got %v", err)
	}
	if _, err := NewEventPublisher(&fakeProducer{}, "", zerolog.Nop()); err == nil {
		t.Fatalf("expected missing topic error")
	}

	boom := errors.New("broker down")
	p, err := NewEventPublisher(&fakeProducer{err: boom}, "topic", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishEvent(context.Background(), models.DeliveryEvent{Type: models.EventTrackingStarted, MessageID: "SM1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped producer error, got %v", err)
	}

	var nilPublisher *EventPublisher
	if err := nilPublisher.PublishEvent(context.Background(), models.DeliveryEvent{}); !errors.Is(err, ErrProducerNotInitialised) {
		t.Fatalf("expected not initialised error, got %v", err)
	}
}
