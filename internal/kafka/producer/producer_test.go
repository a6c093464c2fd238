package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
)

func mockConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestPublishSendsRecord(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	p, err := NewFromSyncProducer(sp, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Publish(context.Background(), "notification.events", []byte("SM1"), map[string][]byte{"content-type": []byte("application/json")}, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsReady() {
		t.Fatalf("expected producer to be ready")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestPublishFailureMarksNotReady(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p, err := NewFromSyncProducer(sp, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = p.Publish(context.Background(), "notification.events", nil, nil, []byte("{}"))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected out of brokers error, got %v", err)
	}
	if p.IsReady() {
		t.Fatalf("expected producer to be marked not ready")
	}
	_ = p.Close()
}

func TestPublishValidatesInput(t *testing.T) {
	sp := mocks.NewSyncProducer(t, mockConfig())
	p, err := NewFromSyncProducer(sp, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), "", nil, nil, nil); err == nil {
		t.Fatalf("expected missing topic error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "topic", nil, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := New(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewFromSyncProducer(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without producer")
	}
}
