package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

type gatewayErr struct {
	status int
	code   string
	msg    string
}

func (e *gatewayErr) Error() string       { return e.msg }
func (e *gatewayErr) StatusCode() int     { return e.status }
func (e *gatewayErr) GatewayCode() string { return e.code }

type wrappedErr struct {
	msg string
	err error
}

func (e *wrappedErr) Error() string { return e.msg }
func (e *wrappedErr) Unwrap() error { return e.err }

type panicErr struct{}

func (panicErr) Error() string { panic("boom") }

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		code     Code
		category Category
		action   Action
	}{
		{"http 401", &gatewayErr{status: 401, msg: "nope"}, CodeAuthFailed, CategoryAuthentication, ActionEscalate},
		{"http 403", &gatewayErr{status: 403, msg: "nope"}, CodeForbidden, CategoryAuthentication, ActionEscalate},
		{"http 429", &gatewayErr{status: 429, msg: "slow down"}, CodeRateLimited, CategoryRateLimiting, ActionFallback},
		{"http 503", &gatewayErr{status: 503, msg: "down"}, CodeServiceUnavailable, CategoryService, ActionRetry},
		{"http 502", &gatewayErr{status: 502, msg: "upstream"}, CodeServerError, CategoryService, ActionRetry},
		{"template not found", errors.New("whatsapp: template not found"), CodeInvalidTemplate, CategoryValidation, ActionNoRetry},
		{"template not approved", errors.New("Template not approved for namespace"), CodeTemplateNotApproved, CategoryValidation, ActionNoRetry},
		{"malformed destination", errors.New("malformed destination address"), CodeInvalidRecipient, CategoryValidation, ActionNoRetry},
		{"not opted in", errors.New("user not opted in"), CodeUserNotOptedIn, CategoryUserError, ActionFallback},
		{"user blocked", errors.New("user blocked the business"), CodeUserBlocked, CategoryUserError, ActionFallback},
		{"dnd", errors.New("recipient on do not disturb list"), CodeRecipientDND, CategoryUserError, ActionFallback},
		{"insufficient balance", errors.New("insufficient balance on account"), CodeInsufficientBalance, CategoryConfiguration, ActionEscalate},
		{"account restricted", errors.New("account restricted by provider"), CodeAccountRestricted, CategoryConfiguration, ActionEscalate},
		{"invalid sender", errors.New("invalid sender id"), CodeInvalidSender, CategoryConfiguration, ActionEscalate},
		{"quota exceeded", errors.New("daily quota exceeded"), CodeQuotaExceeded, CategoryRateLimiting, ActionFallback},
		{"service unavailable text", errors.New("service unavailable"), CodeServiceUnavailable, CategoryService, ActionRetry},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), CodeTimeout, CategoryNetwork, ActionRetry},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, CodeConnectionRefused, CategoryNetwork, ActionRetry},
		{"twilio code", &gatewayErr{status: 400, code: "21610", msg: "unsubscribed"}, CodeUserBlocked, CategoryUserError, ActionFallback},
		{"cloud api template", &gatewayErr{status: 400, code: "132001", msg: "param"}, CodeInvalidTemplate, CategoryValidation, ActionNoRetry},
		{"generic 400", &gatewayErr{status: 400, msg: "bad request"}, CodeInvalidRequest, CategoryValidation, ActionNoRetry},
		{"dnd registry", errors.New("recipient on DND registry"), CodeRecipientDND, CategoryUserError, ActionFallback},
		{"eof text", errors.New("read response: unexpected EOF"), CodeNetworkError, CategoryNetwork, ActionRetry},
		{"wrapped eof", &wrappedErr{msg: "provider closed the stream", err: io.EOF}, CodeNetworkError, CategoryNetwork, ActionRetry},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got == nil {
				t.Fatalf("expected classification")
			}
			if got.Code != tc.code || got.Category != tc.category || got.Action != tc.action {
				t.Fatalf("got (%s, %s, %s), want (%s, %s, %s)", got.Code, got.Category, got.Action, tc.code, tc.category, tc.action)
			}
		})
	}
}

func TestClassifyMatchesNeedlesAtWordStart(t *testing.T) {
	for _, msg := range []string{"payment thereof is pending", "the terms whereof were amended"} {
		if got := Classify(errors.New(msg)); got.Code != CodeUnknown {
			t.Fatalf("%q: expected UNKNOWN, got %s", msg, got.Code)
		}
	}
	if !containsWord("i/o timeout", "timeout") || containsWord("thereof", "eof") {
		t.Fatalf("unexpected word matching")
	}
}

func TestClassifyUnknownIsBoundedServiceRetry(t *testing.T) {
	got := Classify(errors.New("something odd happened"))
	if got.Code != CodeUnknown || got.Category != CategoryService || got.Action != ActionRetry {
		t.Fatalf("unexpected unknown classification: %+v", got)
	}
	if got.RetryLimit != UnknownRetryLimit {
		t.Fatalf("expected retry limit %d, got %d", UnknownRetryLimit, got.RetryLimit)
	}
}

func TestClassifyNeverPanics(t *testing.T) {
	got := Classify(panicErr{})
	if got == nil || got.Code != CodeUnknown {
		t.Fatalf("expected UNKNOWN classification, got %+v", got)
	}
}

func TestClassifyPassesThroughExisting(t *testing.T) {
	orig := New(CodeRateLimited, CategoryRateLimiting, "bucket empty")
	wrapped := fmt.Errorf("dispatch: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Fatalf("expected existing classification to be returned")
	}
	if Classify(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestRetryable(t *testing.T) {
	if New(CodeInvalidTemplate, CategoryValidation, "").Retryable() {
		t.Fatalf("validation must not be retryable")
	}
	forced := New(CodeAuthFailed, CategoryAuthentication, "")
	forced.Action = ActionRetry
	if forced.Retryable() {
		t.Fatalf("authentication must not be retryable even with retry action")
	}
	if !New(CodeTimeout, CategoryNetwork, "").Retryable() {
		t.Fatalf("network must be retryable")
	}
	if New(CodeUserNotOptedIn, CategoryUserError, "").Retryable() {
		t.Fatalf("user errors fall back instead of retrying")
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	base := errors.New("root cause timeout")
	got := Classify(base)
	if !errors.Is(got, base) {
		t.Fatalf("expected classification to unwrap to cause")
	}
}
