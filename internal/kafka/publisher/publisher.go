// Package publisher serialises delivery events onto Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/models"
)

// ErrProducerNotInitialised is returned by a publisher built without a producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// Producer is the subset of producer.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// EventPublisher writes DeliveryEvents to a topic as JSON.
type EventPublisher struct {
	producer Producer
	topic    string
	logger   zerolog.Logger
}

// NewEventPublisher constructs an EventPublisher.
func NewEventPublisher(prod Producer, topic string, logger zerolog.Logger) (*EventPublisher, error) {
	if prod == nil {
		return nil, ErrProducerNotInitialised
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &EventPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger.With().Str("component", "event_publisher").Logger(),
	}, nil
}

// PublishEvent writes event keyed by message id, or by correlation id for
// events that precede gateway acceptance.
func (p *EventPublisher) PublishEvent(ctx context.Context, event models.DeliveryEvent) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal delivery event: %w", err)
	}

	key := event.MessageID
	if key == "" {
		key = event.CorrelationID
	}
	headers := map[string][]byte{
		"content-type": []byte("application/json"),
		"event-type":   []byte(event.Type),
	}

	if err := p.producer.Publish(ctx, p.topic, []byte(key), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish %s event: %w", event.Type, err)
	}
	p.logger.Debug().
		Str("type", event.Type).
		Str("key", key).
		Msg("kafka publisher: event published")
	return nil
}
