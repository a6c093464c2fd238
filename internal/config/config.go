package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by the pluggable components.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMock     = "mock"
	BackendTwilio   = "twilio"
)

// Config captures all runtime configuration for the notification engine.
type Config struct {
	App       AppConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Fallback  FallbackConfig
	Tracker   TrackerConfig
	Templates TemplateConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers ProviderConfig
	Dispatch  DispatchConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// RateLimitConfig sizes the per channel buckets.
type RateLimitConfig struct {
	Backend       string
	RichCapacity  int
	PlainCapacity int
	Interval      time.Duration
}

// RetryConfig controls the per channel retry loop.
type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	AttemptTimeout    time.Duration
}

// FallbackConfig controls channel switching.
type FallbackConfig struct {
	MaxAttempts    int
	RateLimitDelay time.Duration
	RulesFile      string
	LogSize        int
}

// TrackerConfig controls delivery record storage and retention.
type TrackerConfig struct {
	Store         string
	Retention     time.Duration
	SweepInterval time.Duration
	OrphanLogSize int
}

// TemplateConfig selects the message template store.
type TemplateConfig struct {
	Store       string
	DatabaseURL string
	// File is an optional YAML catalogue seeded into the store at startup.
	File string
}

// RedisConfig is shared by the Redis backed limiter and record store.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// KafkaConfig enables the status relay consumer and the event publisher.
// Both are off when no brokers are configured.
type KafkaConfig struct {
	Brokers       []string
	StatusTopic   string
	EventsTopic   string
	ConsumerGroup string
}

// Enabled reports whether brokers were configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// TwilioConfig stores Twilio credentials for SMS/WhatsApp delivery.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	SMSFrom           string
	WhatsAppFrom      string
	StatusCallbackURL string
	BaseURL           string
	// ContentSIDs maps template names to approved Twilio content SIDs.
	ContentSIDs map[string]string
}

// ProviderConfig wraps configuration for external providers.
type ProviderConfig struct {
	SMS         string
	WhatsApp    string
	Twilio      TwilioConfig
	MockLatency time.Duration
}

// DispatchConfig bounds concurrent dispatches.
type DispatchConfig struct {
	MaxInFlight int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.RateLimit.Backend = ldr.getChoice("RATE_LIMIT_BACKEND", BackendMemory, BackendMemory, BackendRedis)
	cfg.RateLimit.RichCapacity = ldr.getPositiveInt("RATE_LIMIT_RICH_PER_SECOND", 80)
	cfg.RateLimit.PlainCapacity = ldr.getPositiveInt("RATE_LIMIT_PLAIN_PER_SECOND", 100)
	cfg.RateLimit.Interval = ldr.getDuration("RATE_LIMIT_INTERVAL", time.Second)

	cfg.Retry.MaxRetries = ldr.getInt("RETRY_MAX_RETRIES", 3, false)
	cfg.Retry.BaseDelay = ldr.getDuration("RETRY_BASE_DELAY", time.Second)
	cfg.Retry.MaxDelay = ldr.getDuration("RETRY_MAX_DELAY", 30*time.Second)
	cfg.Retry.BackoffMultiplier = ldr.getFloat("RETRY_BACKOFF_MULTIPLIER", 2)
	cfg.Retry.Jitter = ldr.getBool("RETRY_JITTER", false, false)
	cfg.Retry.AttemptTimeout = ldr.getDuration("GATEWAY_TIMEOUT", 10*time.Second)

	cfg.Fallback.MaxAttempts = ldr.getInt("FALLBACK_MAX_ATTEMPTS", 2, false)
	cfg.Fallback.RateLimitDelay = ldr.getDuration("FALLBACK_RATE_LIMIT_DELAY", time.Second)
	cfg.Fallback.RulesFile = ldr.getString("FALLBACK_RULES_FILE", "", false)
	cfg.Fallback.LogSize = ldr.getPositiveInt("FALLBACK_LOG_SIZE", 1000)

	cfg.Tracker.Store = ldr.getChoice("TRACKER_STORE", BackendMemory, BackendMemory, BackendRedis)
	cfg.Tracker.Retention = ldr.getDuration("TRACKER_RETENTION", 7*24*time.Hour)
	cfg.Tracker.SweepInterval = ldr.getDuration("TRACKER_SWEEP_INTERVAL", 0)
	cfg.Tracker.OrphanLogSize = ldr.getPositiveInt("TRACKER_ORPHAN_LOG_SIZE", 500)

	cfg.Templates.Store = ldr.getChoice("TEMPLATE_STORE", BackendMemory, BackendMemory, BackendPostgres)
	cfg.Templates.DatabaseURL = ldr.getString("DATABASE_URL", "", cfg.Templates.Store == BackendPostgres)
	cfg.Templates.File = ldr.getString("TEMPLATES_FILE", "", false)

	needRedis := cfg.RateLimit.Backend == BackendRedis || cfg.Tracker.Store == BackendRedis
	cfg.Redis.URL = ldr.getString("REDIS_URL", "", needRedis)
	cfg.Redis.KeyPrefix = ldr.getString("REDIS_KEY_PREFIX", "notifier:", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	kafkaOn := cfg.Kafka.Enabled()
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "notification.status", false)
	cfg.Kafka.EventsTopic = ldr.getString("KAFKA_EVENTS_TOPIC", "notification.events", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "notifier-status", kafkaOn)

	cfg.Providers.SMS = ldr.getChoice("SMS_PROVIDER", BackendMock, BackendMock, BackendTwilio)
	cfg.Providers.WhatsApp = ldr.getChoice("WHATSAPP_PROVIDER", BackendMock, BackendMock, BackendTwilio)
	cfg.Providers.MockLatency = ldr.getDuration("MOCK_PROVIDER_LATENCY", 25*time.Millisecond)
	smsTwilio := cfg.Providers.SMS == BackendTwilio
	waTwilio := cfg.Providers.WhatsApp == BackendTwilio
	cfg.Providers.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", smsTwilio || waTwilio)
	cfg.Providers.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", smsTwilio || waTwilio)
	cfg.Providers.Twilio.SMSFrom = ldr.getString("TWILIO_SMS_FROM", "", smsTwilio)
	cfg.Providers.Twilio.WhatsAppFrom = ldr.getString("TWILIO_WHATSAPP_FROM", "", waTwilio)
	cfg.Providers.Twilio.StatusCallbackURL = ldr.getString("TWILIO_STATUS_CALLBACK_URL", "", false)
	cfg.Providers.Twilio.BaseURL = ldr.getString("TWILIO_BASE_URL", "", false)
	cfg.Providers.Twilio.ContentSIDs = ldr.getStringMap("TWILIO_CONTENT_SIDS")

	cfg.Dispatch.MaxInFlight = ldr.getPositiveInt("DISPATCH_MAX_IN_FLIGHT", 64)

	if cfg.Retry.BackoffMultiplier < 1 {
		ldr.addError("RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}
	if cfg.Retry.MaxRetries < 0 {
		ldr.addError("RETRY_MAX_RETRIES must not be negative")
	}
	if cfg.Fallback.MaxAttempts < 0 {
		ldr.addError("FALLBACK_MAX_ATTEMPTS must not be negative")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		if val = strings.TrimSpace(val); val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getChoice(key, def string, allowed ...string) string {
	val := strings.ToLower(l.getString(key, def, false))
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	l.addError(fmt.Sprintf("%s must be one of %s", key, strings.Join(allowed, ", ")))
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getPositiveInt(key string, def int) int {
	i := l.getInt(key, def, false)
	if i <= 0 {
		l.addError(fmt.Sprintf("%s must be positive", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64) float64 {
	val, ok := l.lookup(key, false)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid number", key))
		return def
	}
	return f
}

// getDuration accepts Go duration strings; a bare integer is read as seconds.
func (l *envLoader) getDuration(key string, def time.Duration) time.Duration {
	val, ok := l.lookup(key, false)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		l.addError(fmt.Sprintf("%s must be a valid duration", key))
		return def
	}
	return d
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

// getStringMap parses "k1=v1,k2=v2".
func (l *envLoader) getStringMap(key string) map[string]string {
	entries := l.getStringSlice(key, false)
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			l.addError(fmt.Sprintf("%s entry %q must look like name=value", key, e))
			continue
		}
		out[k] = v
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
