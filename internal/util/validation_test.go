package util

import (
	"errors"
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	ts, err := ParseRFC3339(" 2026-05-04T10:00:00.250Z ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 5, 4, 10, 0, 0, 250*int(time.Millisecond), time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("got %s, want %s", ts, want)
	}

	for _, raw := range []string{"", "yesterday", "2026-05-04"} {
		if _, err := ParseRFC3339(raw); !errors.Is(err, ErrInvalidTimestamp) {
			t.Fatalf("%q: expected ErrInvalidTimestamp, got %v", raw, err)
		}
	}
}

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551112222", "+15551112222", true},
		{" whatsapp:+15551112222", "+15551112222", true},
		{"WhatsApp:+447700900123", "+447700900123", true},
		{"15551112222", "", false},
		{"+0123", "", false},
		{"whatsapp:", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%q: got %q (%v), want %q", tc.in, got, err, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("%q: expected ErrInvalidPhone, got %v", tc.in, err)
		}
	}
}

func TestValidateMetadata(t *testing.T) {
	limits := MetadataLimits{MaxEntries: 2, MaxKeyLen: 8, MaxValueLen: 5}

	meta, err := ValidateMetadata(map[string]string{" order ": " 42 ", "shop": "ams"}, limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta["order"] != "42" || meta["shop"] != "ams" {
		t.Fatalf("expected trimmed copy, got %v", meta)
	}

	if meta, err := ValidateMetadata(nil, limits); meta != nil || err != nil {
		t.Fatalf("expected nil for empty metadata, got %v (%v)", meta, err)
	}

	rejected := []map[string]string{
		{"a": "1", "b": "2", "c": "3"},
		{" ": "blank key"},
		{"campaign_id": "x"},
		{"order": "123456"},
	}
	for _, m := range rejected {
		if _, err := ValidateMetadata(m, limits); !errors.Is(err, ErrInvalidMetadata) {
			t.Fatalf("%v: expected ErrInvalidMetadata, got %v", m, err)
		}
	}
}

func TestEnsureMaxRunes(t *testing.T) {
	if err := EnsureMaxRunes("message", "bestellung über", 15); err != nil {
		t.Fatalf("runes, not bytes, must be counted: %v", err)
	}
	if err := EnsureMaxRunes("message", "order shipped", 5); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if err := EnsureMaxRunes("message", "anything", 0); err != nil {
		t.Fatalf("zero limit must disable the check: %v", err)
	}
}

func TestValidateHTTPURL(t *testing.T) {
	got, err := ValidateHTTPURL(" https://hooks.artisanmart.test/v1/webhooks/twilio ")
	if err != nil || got != "https://hooks.artisanmart.test/v1/webhooks/twilio" {
		t.Fatalf("got %q (%v)", got, err)
	}
	for _, raw := range []string{"", "ftp://hooks.artisanmart.test", "https://", "://broken"} {
		if _, err := ValidateHTTPURL(raw); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("%q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestValidateTemplateName(t *testing.T) {
	got, err := ValidateTemplateName(" order_update.v2 ")
	if err != nil || got != "order_update.v2" {
		t.Fatalf("got %q (%v)", got, err)
	}
	for _, raw := range []string{"", "ab", "order update", "(*bad*)"} {
		if _, err := ValidateTemplateName(raw); !errors.Is(err, ErrInvalidTemplate) {
			t.Fatalf("%q: expected ErrInvalidTemplate, got %v", raw, err)
		}
	}
}
