package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/artisanmart/notifier/internal/adapters/common"
	smsadapter "github.com/artisanmart/notifier/internal/adapters/sms"
	waadapter "github.com/artisanmart/notifier/internal/adapters/whatsapp"
	"github.com/artisanmart/notifier/internal/config"
	smsprovider "github.com/artisanmart/notifier/internal/providers/sms"
	"github.com/artisanmart/notifier/internal/providers/twilio"
	waprovider "github.com/artisanmart/notifier/internal/providers/whatsapp"
	"github.com/artisanmart/notifier/internal/util"
)

// Senders builds the rich and plain channel senders for the configured backends.
func Senders(cfg config.ProviderConfig, logger zerolog.Logger) ([]common.Sender, error) {
	sms, err := SMS(cfg, logger)
	if err != nil {
		return nil, err
	}
	wa, err := WhatsApp(cfg, logger)
	if err != nil {
		return nil, err
	}

	plain, err := smsadapter.NewAdapter(sms, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: sms adapter init: %w", err)
	}
	rich, err := waadapter.NewAdapter(wa, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: whatsapp adapter init: %w", err)
	}
	return []common.Sender{rich, plain}, nil
}

// SMS constructs the configured SMS provider. Supports mock and Twilio backends.
func SMS(cfg config.ProviderConfig, logger zerolog.Logger) (smsprovider.Provider, error) {
	backend := normalize(cfg.SMS, config.BackendMock)
	switch backend {
	case config.BackendTwilio:
		client, err := twilioClient(cfg.Twilio, logger)
		if err != nil {
			return nil, err
		}
		provider, err := smsprovider.NewTwilioProvider(client, cfg.Twilio.SMSFrom, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: twilio sms provider init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Msg("sms provider initialised")
		return provider, nil
	case config.BackendMock:
		provider := smsprovider.NewMockProvider(logger, smsprovider.WithLatency(cfg.MockLatency))
		logger.Info().
			Str("backend", backend).
			Msg("sms provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported sms provider backend %q", cfg.SMS)
	}
}

// WhatsApp constructs the configured WhatsApp provider. Supports mock and Twilio backends.
func WhatsApp(cfg config.ProviderConfig, logger zerolog.Logger) (waprovider.Provider, error) {
	backend := normalize(cfg.WhatsApp, config.BackendMock)
	switch backend {
	case config.BackendTwilio:
		client, err := twilioClient(cfg.Twilio, logger)
		if err != nil {
			return nil, err
		}
		provider, err := waprovider.NewTwilioProvider(client, cfg.Twilio.WhatsAppFrom, logger,
			waprovider.WithContentSIDs(cfg.Twilio.ContentSIDs))
		if err != nil {
			return nil, fmt.Errorf("factory: twilio whatsapp provider init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Int("content_templates", len(cfg.Twilio.ContentSIDs)).
			Msg("whatsapp provider initialised")
		return provider, nil
	case config.BackendMock:
		provider := waprovider.NewMockProvider(logger, waprovider.WithLatency(cfg.MockLatency))
		logger.Info().
			Str("backend", backend).
			Msg("whatsapp provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported whatsapp provider backend %q", cfg.WhatsApp)
	}
}

func twilioClient(cfg config.TwilioConfig, logger zerolog.Logger) (*twilio.Client, error) {
	opts := []twilio.Option{twilio.WithBaseURL(cfg.BaseURL)}
	if cfg.StatusCallbackURL != "" {
		callback, err := util.ValidateHTTPURL(cfg.StatusCallbackURL)
		if err != nil {
			return nil, fmt.Errorf("factory: twilio status callback: %w", err)
		}
		opts = append(opts, twilio.WithStatusCallback(callback))
	}
	client, err := twilio.NewClient(twilio.Credentials{AccountSID: cfg.AccountSID, AuthToken: cfg.AuthToken}, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("factory: twilio client init: %w", err)
	}
	return client, nil
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
