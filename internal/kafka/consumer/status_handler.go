package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/models"
	"github.com/artisanmart/notifier/internal/tracker"
)

// WebhookSource labels status events that arrive over Kafka.
const WebhookSource = "kafka"

// WebhookProcessor merges a status callback into tracked state.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, event models.StatusEvent, source string) (tracker.Outcome, error)
}

// NewStatusHandler decodes relayed status callbacks and hands them to proc.
// Undecodable records and events without a message id are skipped; store
// failures are returned for retry.
func NewStatusHandler(proc WebhookProcessor, logger zerolog.Logger) (Handler, error) {
	if proc == nil {
		return nil, errors.New("kafka consumer: webhook processor is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "status_relay").Logger()

	return func(ctx context.Context, record *Record) error {
		var event models.StatusEvent
		if err := json.Unmarshal(record.Value, &event); err != nil {
			return fmt.Errorf("%w: decode status event at offset %d: %w", ErrSkipRecord, record.Offset, err)
		}
		if strings.TrimSpace(event.MessageID) == "" {
			event.MessageID = strings.TrimSpace(string(record.Key))
		}

		outcome, err := proc.ProcessWebhook(ctx, event, WebhookSource)
		if errors.Is(err, tracker.ErrInvalidEvent) {
			return fmt.Errorf("%w: %w", ErrSkipRecord, err)
		}
		if err != nil {
			return fmt.Errorf("kafka consumer: process status event: %w", err)
		}
		logger.Debug().
			Str("message_id", event.MessageID).
			Str("status", event.Status).
			Str("outcome", string(outcome)).
			Msg("kafka consumer: status event merged")
		return nil
	}, nil
}
