package common

import (
	"time"
	"unicode/utf8"
)

// DefaultRawBodyLimit defines the maximum number of characters retained from a
// provider response body when attaching it to a ProviderResponse.
const DefaultRawBodyLimit = 1024

// ProviderResponse captures normalized provider information for logging and
// delivery events.
type ProviderResponse struct {
	Status  string            `json:"status"`
	Code    *int              `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Raw     string            `json:"raw,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// NewProviderResponse builds the accepted response shared by every adapter.
func NewProviderResponse(id, status string, code int, raw string, at time.Time, limit int) *ProviderResponse {
	meta := make(map[string]string)
	if id != "" {
		meta["provider_id"] = id
	}
	if status != "" {
		meta["provider_status"] = status
	}
	if !at.IsZero() {
		meta["provider_timestamp"] = at.UTC().Format(time.RFC3339Nano)
	}
	if len(meta) == 0 {
		meta = nil
	}
	var codePtr *int
	if code != 0 {
		c := code
		codePtr = &c
	}
	return &ProviderResponse{
		Status:  "ok",
		Message: "sent",
		Code:    codePtr,
		Raw:     TruncateRaw(raw, limit),
		Meta:    meta,
	}
}

// TruncateRaw trims the supplied string to the specified rune limit. If limit
// is zero or negative it returns an empty string.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:limit])
}
