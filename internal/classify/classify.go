// Package classify normalises raw delivery failures into a code, a category
// and the action the retry and fallback layers should take.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Category groups failure codes by their recovery characteristics.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryConfiguration  Category = "configuration"
	CategoryRateLimiting   Category = "rate_limiting"
	CategoryNetwork        Category = "network"
	CategoryService        Category = "service"
	CategoryUserError      Category = "user_error"
)

// Action is the default reaction to a classified failure.
type Action string

const (
	ActionNoRetry  Action = "no_retry"
	ActionRetry    Action = "retry"
	ActionFallback Action = "fallback"
	ActionEscalate Action = "escalate"
)

// Code is the normalised failure code.
type Code string

const (
	CodeInvalidTemplate      Code = "INVALID_TEMPLATE"
	CodeTemplateNotApproved  Code = "TEMPLATE_NOT_APPROVED"
	CodeMissingTemplateParam Code = "MISSING_TEMPLATE_PARAM"
	CodeInvalidRecipient     Code = "INVALID_RECIPIENT"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeUnsupportedContent   Code = "UNSUPPORTED_CONTENT"
	CodeAuthFailed           Code = "AUTHENTICATION_FAILED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeAccountRestricted    Code = "ACCOUNT_RESTRICTED"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeInvalidSender        Code = "INVALID_SENDER_ID"
	CodeChannelUnavailable   Code = "CHANNEL_UNAVAILABLE"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeTimeout              Code = "NETWORK_TIMEOUT"
	CodeConnectionRefused    Code = "CONNECTION_REFUSED"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeCancelled            Code = "CANCELLED"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeServerError          Code = "SERVER_ERROR"
	CodeUserNotOptedIn       Code = "USER_NOT_OPTED_IN"
	CodeUserBlocked          Code = "USER_BLOCKED"
	CodeRecipientDND         Code = "RECIPIENT_DND"
	CodeRecipientUnreachable Code = "RECIPIENT_UNREACHABLE"
	CodeUnknown              Code = "UNKNOWN"
)

// UnknownRetryLimit bounds the retries spent on failures nobody recognised.
const UnknownRetryLimit = 2

// DefaultAction returns the action attached to a category.
func DefaultAction(c Category) Action {
	switch c {
	case CategoryValidation:
		return ActionNoRetry
	case CategoryAuthentication, CategoryConfiguration:
		return ActionEscalate
	case CategoryRateLimiting, CategoryUserError:
		return ActionFallback
	case CategoryNetwork, CategoryService:
		return ActionRetry
	default:
		return ActionRetry
	}
}

// Classification is the normalised form of a failure. It implements error so
// inner components can return it directly.
type Classification struct {
	Code       Code
	Category   Category
	Action     Action
	HTTPStatus int
	Message    string
	// RetryLimit caps the retries for this failure when positive.
	RetryLimit int

	cause error
}

// New builds a classification with the category default action.
func New(code Code, category Category, message string) *Classification {
	return &Classification{
		Code:     code,
		Category: category,
		Action:   DefaultAction(category),
		Message:  message,
	}
}

// Error implements error.
func (c *Classification) Error() string {
	if c == nil {
		return ""
	}
	if c.Message == "" {
		return fmt.Sprintf("%s (%s)", c.Code, c.Category)
	}
	return fmt.Sprintf("%s (%s): %s", c.Code, c.Category, c.Message)
}

// Unwrap exposes the raw cause.
func (c *Classification) Unwrap() error {
	if c == nil {
		return nil
	}
	return c.cause
}

// Retryable reports whether the same call may be attempted again. Validation,
// authentication and configuration failures never are.
func (c *Classification) Retryable() bool {
	if c == nil {
		return false
	}
	switch c.Category {
	case CategoryValidation, CategoryAuthentication, CategoryConfiguration:
		return false
	}
	return c.Action == ActionRetry
}

// WithCause attaches the raw error.
func (c *Classification) WithCause(err error) *Classification {
	c.cause = err
	return c
}

// gatewayCoder is implemented by errors carrying a provider error code.
type gatewayCoder interface {
	GatewayCode() string
}

// statusCoder is implemented by errors carrying an HTTP status.
type statusCoder interface {
	StatusCode() int
}

type codeEntry struct {
	code     Code
	category Category
}

// gatewayCodes covers Twilio and WhatsApp Cloud API error codes.
var gatewayCodes = map[string]codeEntry{
	"20003":  {CodeAuthFailed, CategoryAuthentication},
	"20429":  {CodeRateLimited, CategoryRateLimiting},
	"21211":  {CodeInvalidRecipient, CategoryValidation},
	"21614":  {CodeInvalidRecipient, CategoryValidation},
	"21606":  {CodeInvalidSender, CategoryConfiguration},
	"21610":  {CodeUserBlocked, CategoryUserError},
	"21612":  {CodeRecipientUnreachable, CategoryUserError},
	"30001":  {CodeQuotaExceeded, CategoryRateLimiting},
	"30002":  {CodeAccountRestricted, CategoryConfiguration},
	"30003":  {CodeRecipientUnreachable, CategoryUserError},
	"30004":  {CodeUserBlocked, CategoryUserError},
	"30005":  {CodeInvalidRecipient, CategoryValidation},
	"30007":  {CodeRecipientDND, CategoryUserError},
	"63016":  {CodeUserNotOptedIn, CategoryUserError},
	"63018":  {CodeRateLimited, CategoryRateLimiting},
	"63024":  {CodeInvalidRecipient, CategoryValidation},
	"190":    {CodeAuthFailed, CategoryAuthentication},
	"130429": {CodeRateLimited, CategoryRateLimiting},
	"131026": {CodeRecipientUnreachable, CategoryUserError},
	"131031": {CodeAccountRestricted, CategoryConfiguration},
	"131042": {CodeInsufficientBalance, CategoryConfiguration},
	"131047": {CodeUserNotOptedIn, CategoryUserError},
	"131056": {CodeRateLimited, CategoryRateLimiting},
	"132000": {CodeMissingTemplateParam, CategoryValidation},
	"132001": {CodeInvalidTemplate, CategoryValidation},
	"132015": {CodeTemplateNotApproved, CategoryValidation},
}

type pattern struct {
	needles  []string
	code     Code
	category Category
}

// messagePatterns is evaluated in order; the first match wins. Needles only
// match at the start of a word.
var messagePatterns = []pattern{
	{[]string{"template not found", "template does not exist", "template name does not exist", "unknown template"}, CodeInvalidTemplate, CategoryValidation},
	{[]string{"template not approved", "template is not approved", "template paused", "template disabled"}, CodeTemplateNotApproved, CategoryValidation},
	{[]string{"malformed destination", "invalid destination", "invalid phone", "invalid recipient", "invalid 'to'", "not a valid phone"}, CodeInvalidRecipient, CategoryValidation},
	{[]string{"not opted in", "opted out", "not opted-in", "re-engagement"}, CodeUserNotOptedIn, CategoryUserError},
	{[]string{"do not disturb", "do-not-disturb", "dnd"}, CodeRecipientDND, CategoryUserError},
	{[]string{"user blocked", "blocked by user", "recipient blocked", "has blocked"}, CodeUserBlocked, CategoryUserError},
	{[]string{"insufficient balance", "insufficient funds", "low balance"}, CodeInsufficientBalance, CategoryConfiguration},
	{[]string{"account restricted", "account suspended", "account disabled", "account locked"}, CodeAccountRestricted, CategoryConfiguration},
	{[]string{"invalid sender", "sender id", "invalid from"}, CodeInvalidSender, CategoryConfiguration},
	{[]string{"unauthorized", "authentication failed", "invalid credentials", "invalid token"}, CodeAuthFailed, CategoryAuthentication},
	{[]string{"forbidden", "permission denied"}, CodeForbidden, CategoryAuthentication},
	{[]string{"quota exceeded", "quota exhausted"}, CodeQuotaExceeded, CategoryRateLimiting},
	{[]string{"rate limit", "too many requests", "throttled"}, CodeRateLimited, CategoryRateLimiting},
	{[]string{"connection refused"}, CodeConnectionRefused, CategoryNetwork},
	{[]string{"timeout", "timed out", "deadline exceeded"}, CodeTimeout, CategoryNetwork},
	{[]string{"connection reset", "broken pipe", "no such host", "eof"}, CodeNetworkError, CategoryNetwork},
	{[]string{"service unavailable", "temporarily unavailable", "bad gateway"}, CodeServiceUnavailable, CategoryService},
}

// Classify maps a raw failure onto a Classification. It never panics and
// returns nil only for a nil error. Unrecognised failures become a bounded
// UNKNOWN service failure.
func Classify(err error) (out *Classification) {
	if err == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = unknown(err)
		}
	}()

	var existing *Classification
	if errors.As(err, &existing) && existing != nil {
		return existing
	}

	status := 0
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	var gc gatewayCoder
	if errors.As(err, &gc) {
		if entry, ok := gatewayCodes[strings.TrimSpace(gc.GatewayCode())]; ok {
			return build(entry.code, entry.category, status, err)
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return build(CodeAuthFailed, CategoryAuthentication, status, err)
	case status == http.StatusForbidden:
		return build(CodeForbidden, CategoryAuthentication, status, err)
	case status == http.StatusTooManyRequests:
		return build(CodeRateLimited, CategoryRateLimiting, status, err)
	case status == http.StatusServiceUnavailable:
		return build(CodeServiceUnavailable, CategoryService, status, err)
	case status >= http.StatusInternalServerError:
		return build(CodeServerError, CategoryService, status, err)
	}

	if c := classifyTransport(err, status); c != nil {
		return c
	}

	lower := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if containsWord(lower, needle) {
				return build(p.code, p.category, status, err)
			}
		}
	}

	if status >= http.StatusBadRequest {
		return build(CodeInvalidRequest, CategoryValidation, status, err)
	}

	return unknown(err)
}

func classifyTransport(err error, status int) *Classification {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return build(CodeTimeout, CategoryNetwork, status, err)
	case errors.Is(err, context.Canceled):
		return build(CodeCancelled, CategoryNetwork, status, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return build(CodeConnectionRefused, CategoryNetwork, status, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return build(CodeNetworkError, CategoryNetwork, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return build(CodeTimeout, CategoryNetwork, status, err)
		}
		return build(CodeNetworkError, CategoryNetwork, status, err)
	}
	return nil
}

// containsWord reports whether needle occurs in s at a word start.
func containsWord(s, needle string) bool {
	for offset := 0; offset < len(s); {
		i := strings.Index(s[offset:], needle)
		if i < 0 {
			return false
		}
		i += offset
		if i == 0 || !isWordByte(s[i-1]) {
			return true
		}
		offset = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func build(code Code, category Category, status int, err error) *Classification {
	c := New(code, category, err.Error())
	c.HTTPStatus = status
	return c.WithCause(err)
}

func unknown(err error) *Classification {
	msg := "unclassified error"
	if err != nil {
		msg = safeMessage(err)
	}
	c := New(CodeUnknown, CategoryService, msg)
	c.RetryLimit = UnknownRetryLimit
	return c.WithCause(err)
}

func safeMessage(err error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = "unclassified error"
		}
	}()
	return err.Error()
}
