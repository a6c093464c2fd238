package sms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	"github.com/artisanmart/notifier/internal/classify"
	smsprovider "github.com/artisanmart/notifier/internal/providers/sms"
	"github.com/artisanmart/notifier/internal/providers/twilio"
)

func newAdapter(t *testing.T, opts ...smsprovider.Option) *Adapter {
	t.Helper()
	provider := smsprovider.NewMockProvider(zerolog.Nop(), append([]smsprovider.Option{smsprovider.WithLatency(0)}, opts...)...)
	a, err := NewAdapter(provider, zerolog.Nop(), WithMaxBodyRunes(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func TestSendText(t *testing.T) {
	a := newAdapter(t)
	receipt, err := a.Send(context.Background(), &common.Outbound{To: " +15551112222 ", Text: "Order shipped"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID == "" || receipt.Address != "+15551112222" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestSendRejectsMissingOrLongText(t *testing.T) {
	a := newAdapter(t)

	_, err := a.Send(context.Background(), &common.Outbound{To: "+15551112222", TemplateName: "order_update"})
	var c *classify.Classification
	if !errors.As(err, &c) || c.Code != classify.CodeUnsupportedContent {
		t.Fatalf("expected unsupported content, got %v", err)
	}

	_, err = a.Send(context.Background(), &common.Outbound{To: "+15551112222", Text: strings.Repeat("x", 21)})
	if !errors.As(err, &c) || c.Code != classify.CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestSendGatewayFailureClassifies(t *testing.T) {
	a := newAdapter(t, smsprovider.WithScenario(twilio.ScenarioTransient))

	_, err := a.Send(context.Background(), &common.Outbound{To: "+15551112222", Text: "hi"})
	c := classify.Classify(err)
	if c.Category != classify.CategoryService || !c.Retryable() {
		t.Fatalf("expected retryable service failure, got %v", c)
	}
}
