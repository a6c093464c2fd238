package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/providers/twilio"
	waprovider "github.com/artisanmart/notifier/internal/providers/whatsapp"
)

func newAdapter(t *testing.T, opts ...waprovider.Option) (*Adapter, *waprovider.MockProvider) {
	t.Helper()
	provider := waprovider.NewMockProvider(zerolog.Nop(), append([]waprovider.Option{waprovider.WithLatency(0)}, opts...)...)
	a, err := NewAdapter(provider, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a, provider
}

func TestSendTemplate(t *testing.T) {
	a, provider := newAdapter(t)

	receipt, err := a.Send(context.Background(), &common.Outbound{
		CorrelationID:  "corr-1",
		To:             "+15551112222",
		TemplateName:   "order_update",
		TemplateParams: map[string]string{"order": "A-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID == "" || receipt.Address != "whatsapp:+15551112222" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.Response == nil || receipt.Response.Meta["provider_id"] != receipt.MessageID {
		t.Fatalf("unexpected provider response %+v", receipt.Response)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", provider.Calls())
	}
}

func TestSendWithoutTemplateIsUnsupported(t *testing.T) {
	a, provider := newAdapter(t)

	_, err := a.Send(context.Background(), &common.Outbound{To: "+15551112222", Text: "plain only"})
	var c *classify.Classification
	if !errors.As(err, &c) || c.Code != classify.CodeUnsupportedContent {
		t.Fatalf("expected unsupported content, got %v", err)
	}
	if provider.Calls() != 0 {
		t.Fatalf("provider must not be called for unsupported content")
	}
}

func TestSendInvalidRecipient(t *testing.T) {
	a, _ := newAdapter(t)

	_, err := a.Send(context.Background(), &common.Outbound{To: "555", TemplateName: "order_update"})
	if c := classify.Classify(err); c.Code != classify.CodeInvalidRecipient || c.Category != classify.CategoryValidation {
		t.Fatalf("expected invalid recipient, got %v", c)
	}
}

func TestSendGatewayFailureClassifies(t *testing.T) {
	a, _ := newAdapter(t, waprovider.WithScenario(twilio.ScenarioNotOptedIn))

	_, err := a.Send(context.Background(), &common.Outbound{To: "+15551112222", TemplateName: "order_update"})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if c := classify.Classify(err); c.Code != classify.CodeUserNotOptedIn || c.Category != classify.CategoryUserError {
		t.Fatalf("expected user not opted in, got %v", c)
	}
}

func TestNewAdapterRequiresProvider(t *testing.T) {
	if _, err := NewAdapter(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without provider")
	}
}
