package models

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]DeliveryStatus{
		"queued":      StatusQueued,
		"submitted":   StatusSent,
		" SENT ":      StatusSent,
		"delivered":   StatusDelivered,
		"read":        StatusRead,
		"rejected":    StatusFailed,
		"error":       StatusFailed,
		"undelivered": StatusFailed,
		"mystery":     StatusSent,
		"":            StatusSent,
	}
	for raw, want := range cases {
		if got := NormalizeStatus(raw); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestStatusOrdering(t *testing.T) {
	order := []DeliveryStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("expected %s to rank above %s", order[i], order[i-1])
		}
	}
	if StatusFailed.Rank() != -1 {
		t.Fatalf("failed must not have a rank, got %d", StatusFailed.Rank())
	}
	if !StatusRead.Terminal() || !StatusFailed.Terminal() || StatusDelivered.Terminal() {
		t.Fatal("unexpected terminal states")
	}
	if !StatusRead.Delivered() || StatusSent.Delivered() {
		t.Fatal("unexpected delivered states")
	}
}

func TestParseChannelAliases(t *testing.T) {
	if ch, ok := ParseChannel("WhatsApp"); !ok || ch != ChannelRich {
		t.Fatalf("whatsapp alias: got %q %v", ch, ok)
	}
	if ch, ok := ParseChannel(" sms "); !ok || ch != ChannelPlain {
		t.Fatalf("sms alias: got %q %v", ch, ok)
	}
	if _, ok := ParseChannel("email"); ok {
		t.Fatal("expected email to be rejected")
	}
}

func TestParsePriorityDefaultsToMedium(t *testing.T) {
	if p, ok := ParsePriority(""); !ok || p != PriorityMedium {
		t.Fatalf("empty priority: got %q %v", p, ok)
	}
	if p, ok := ParsePriority("HIGH"); !ok || p != PriorityHigh {
		t.Fatalf("uppercase priority: got %q %v", p, ok)
	}
	if _, ok := ParsePriority("urgent"); ok {
		t.Fatal("expected unknown priority to be rejected")
	}
}

func TestHasTemplate(t *testing.T) {
	if (SendRequest{TemplateName: "  "}).HasTemplate() {
		t.Fatal("blank template name must not count")
	}
	if !(SendRequest{TemplateName: "order_update"}).HasTemplate() {
		t.Fatal("expected template")
	}
}
