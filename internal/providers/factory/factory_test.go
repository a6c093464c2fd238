package factory

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/artisanmart/notifier/internal/config"
	"github.com/artisanmart/notifier/internal/models"
	smsprovider "github.com/artisanmart/notifier/internal/providers/sms"
	waprovider "github.com/artisanmart/notifier/internal/providers/whatsapp"
)

func TestSendersDefaultToMocks(t *testing.T) {
	senders, err := Senders(config.ProviderConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(senders) != 2 || senders[0].Channel() != models.ChannelRich || senders[1].Channel() != models.ChannelPlain {
		t.Fatalf("unexpected senders %v", senders)
	}
}

func TestTwilioBackends(t *testing.T) {
	cfg := config.ProviderConfig{
		SMS:      "Twilio",
		WhatsApp: "twilio",
		Twilio: config.TwilioConfig{
			AccountSID:   "AC1",
			AuthToken:    "secret",
			SMSFrom:      "+15550000000",
			WhatsAppFrom: "+15550000001",
		},
	}
	sms, err := SMS(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := sms.(*smsprovider.TwilioProvider); !ok {
		t.Fatalf("expected twilio sms provider, got %T", sms)
	}
	wa, err := WhatsApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := wa.(*waprovider.TwilioProvider); !ok {
		t.Fatalf("expected twilio whatsapp provider, got %T", wa)
	}
}

func TestFactoryErrors(t *testing.T) {
	if _, err := SMS(config.ProviderConfig{SMS: "carrier-pigeon"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
	if _, err := WhatsApp(config.ProviderConfig{WhatsApp: "twilio"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected missing credentials error")
	}
	cfg := config.ProviderConfig{SMS: "twilio", Twilio: config.TwilioConfig{
		AccountSID: "AC1", AuthToken: "x", SMSFrom: "+1555", StatusCallbackURL: "ftp://nope",
	}}
	if _, err := SMS(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected invalid callback url error")
	}
}
