// Package util holds the input checks shared by the API, the dispatcher and
// the channel adapters.
package util

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidPhone     = errors.New("invalid recipient address")
	ErrInvalidURL       = errors.New("invalid callback url")
	ErrInvalidTemplate  = errors.New("invalid template name")
	ErrInvalidMetadata  = errors.New("invalid metadata")
	ErrTooLong          = errors.New("value too long")
)

// whatsappPrefix is how the rich channel gateway addresses recipients.
const whatsappPrefix = "whatsapp:"

var (
	e164         = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	templateName = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)
)

// MetadataLimits bounds caller supplied metadata. Zero fields are unlimited.
type MetadataLimits struct {
	MaxEntries  int
	MaxKeyLen   int
	MaxValueLen int
}

// required trims value and fails with sentinel when nothing is left.
func required(value string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	return trimmed, nil
}

// ParseRFC3339 parses report bounds and webhook timestamps. Fractional
// seconds are accepted.
func ParseRFC3339(value string) (time.Time, error) {
	trimmed, err := required(value, ErrInvalidTimestamp)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, trimmed)
	}
	return ts, nil
}

// NormalizeE164 returns the bare E.164 form of a recipient. Addresses that
// already carry the rich channel prefix are accepted so a formatted gateway
// address can be fed back in.
func NormalizeE164(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= len(whatsappPrefix) && strings.EqualFold(trimmed[:len(whatsappPrefix)], whatsappPrefix) {
		trimmed = trimmed[len(whatsappPrefix):]
	}
	number, err := required(trimmed, ErrInvalidPhone)
	if err != nil {
		return "", err
	}
	if !e164.MatchString(number) {
		return "", fmt.Errorf("%w: %q is not E.164", ErrInvalidPhone, number)
	}
	return number, nil
}

// ValidateMetadata returns a trimmed copy of meta within limits. An empty map
// yields nil.
func ValidateMetadata(meta map[string]string, limits MetadataLimits) (map[string]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	if limits.MaxEntries > 0 && len(meta) > limits.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, at most %d allowed", ErrInvalidMetadata, len(meta), limits.MaxEntries)
	}

	out := make(map[string]string, len(meta))
	for k, v := range meta {
		key, err := required(k, ErrInvalidMetadata)
		if err != nil {
			return nil, fmt.Errorf("%w: key must not be blank", ErrInvalidMetadata)
		}
		if exceeds(key, limits.MaxKeyLen) {
			return nil, fmt.Errorf("%w: key %q longer than %d", ErrInvalidMetadata, key, limits.MaxKeyLen)
		}
		value := strings.TrimSpace(v)
		if exceeds(value, limits.MaxValueLen) {
			return nil, fmt.Errorf("%w: value of %q longer than %d", ErrInvalidMetadata, key, limits.MaxValueLen)
		}
		out[key] = value
	}
	return out, nil
}

// EnsureMaxRunes fails when value holds more than limit runes. A limit of
// zero or less disables the check.
func EnsureMaxRunes(field, value string, limit int) error {
	if exceeds(value, limit) {
		return fmt.Errorf("%w: %s has %d characters, at most %d allowed", ErrTooLong, field, utf8.RuneCountInString(value), limit)
	}
	return nil
}

func exceeds(value string, limit int) bool {
	return limit > 0 && utf8.RuneCountInString(value) > limit
}

// ValidateHTTPURL checks a status callback URL handed to the gateway.
func ValidateHTTPURL(value string) (string, error) {
	trimmed, err := required(value, ErrInvalidURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	case u.Host == "":
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return trimmed, nil
}

// ValidateTemplateName checks the name a rich message references in the
// template store.
func ValidateTemplateName(value string) (string, error) {
	name, err := required(value, ErrInvalidTemplate)
	if err != nil {
		return "", err
	}
	if !templateName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplate, name)
	}
	return name, nil
}
