// Package consumer reads relayed gateway status callbacks from Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultSessionTimeout   = 30 * time.Second
	defaultHeartbeat        = 3 * time.Second
	defaultRebalanceTimeout = 30 * time.Second
	defaultConsumeBackoff   = time.Second
	defaultRetryBackoff     = 500 * time.Millisecond
	defaultMaxRetryBackoff  = 30 * time.Second
	clientID                = "notifier-status-consumer"
)

// ErrSkipRecord is wrapped by handler errors that retrying cannot fix. Such a
// record is logged and its offset marked.
var ErrSkipRecord = errors.New("kafka consumer: record skipped")

// Handler is invoked for every record. A nil error or one wrapping
// ErrSkipRecord marks the offset. Any other error is retried with backoff
// until the handler succeeds or the session ends; the offset then stays
// unmarked and the record is redelivered.
type Handler func(ctx context.Context, record *Record) error

// Option customises the consumer during construction.
type Option func(*options)

type options struct {
	config *sarama.Config
}

// WithConfig supplies a Sarama config. It is copied so the caller retains
// ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// Record is a Kafka message delivered to a Handler.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte
}

// Consumer wraps a Sarama consumer group.
type Consumer struct {
	logger  zerolog.Logger
	group   sarama.ConsumerGroup
	groupID string

	ready        atomic.Bool
	errorsDoneCh chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// New joins groupID on the given brokers.
func New(brokers []string, groupID string, logger zerolog.Logger, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}

	settings := &options{config: defaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}
	cfg := cloneConfig(settings.config)
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}
	return newConsumer(group, groupID, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, groupID string, logger zerolog.Logger) *Consumer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	c := &Consumer{
		logger:       logger.With().Str("component", "kafka_consumer").Str("group_id", groupID).Logger(),
		group:        group,
		groupID:      groupID,
		errorsDoneCh: make(chan struct{}),
	}
	go c.consumeErrors()
	return c
}

// Consume blocks, delivering records from topics to handler, until ctx is
// cancelled or the group is closed.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	c.wg.Add(1)
	defer c.wg.Done()

	gh := &groupHandler{
		consumer:   c,
		handler:    handler,
		backoff:    defaultRetryBackoff,
		maxBackoff: defaultMaxRetryBackoff,
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := c.group.Consume(ctx, topics, gh)
		if err == nil {
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		c.logger.Error().Err(err).Msg("kafka consumer: consume error")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(defaultConsumeBackoff):
		}
	}
}

// IsReady reports whether the consumer currently holds a group session.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close leaves the group and waits for Consume to return.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.group.Close()
		c.wg.Wait()
		<-c.errorsDoneCh
	})
	return err
}

func (c *Consumer) consumeErrors() {
	defer close(c.errorsDoneCh)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer: group error")
		}
	}
}

type groupHandler struct {
	consumer   *Consumer
	handler    Handler
	backoff    time.Duration
	maxBackoff time.Duration
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().Msg("kafka consumer: session started")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().Msg("kafka consumer: session ended")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		record := &Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       cloneBytes(msg.Key),
			Value:     cloneBytes(msg.Value),
			Timestamp: msg.Timestamp,
			Headers:   fromHeaders(msg.Headers),
		}
		if !h.handle(session.Context(), record) {
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// handle runs the handler until it succeeds or fails permanently. It reports
// false when ctx ends first, leaving the record unacknowledged.
func (h *groupHandler) handle(ctx context.Context, record *Record) bool {
	backoff := h.backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxBackoff := h.maxBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	logger := h.consumer.logger.With().
		Str("topic", record.Topic).
		Int32("partition", record.Partition).
		Int64("offset", record.Offset).
		Logger()

	for attempt := 1; ; attempt++ {
		err := h.handler(ctx, record)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrSkipRecord) {
			logger.Error().Err(err).Msg("kafka consumer: skipping record")
			return true
		}
		if ctx.Err() != nil {
			logger.Warn().Err(err).Msg("kafka consumer: session ended before record was handled")
			return false
		}
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("kafka consumer: handler failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().Msg("kafka consumer: session ended before record was handled")
			return false
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = clientID
	cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
	cfg.Consumer.Group.Rebalance.Timeout = defaultRebalanceTimeout
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true
	return cfg
}

func cloneConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		return defaultConfig()
	}
	cloned := *cfg
	return &cloned
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func fromHeaders(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h == nil || len(h.Key) == 0 {
			continue
		}
		out[string(h.Key)] = cloneBytes(h.Value)
	}
	return out
}
