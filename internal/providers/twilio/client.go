// Package twilio is the REST client shared by the Twilio SMS and WhatsApp
// providers.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL   = "https://api.twilio.com/2010-04-01"
	defaultBodyLimit = 16 * 1024
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials identify a Twilio account.
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to talk to Twilio.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sets the base Twilio API URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(baseURL, "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithBodyLimit adjusts how many bytes are retained from the HTTP response body.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// WithStatusCallback makes Twilio post delivery status updates to url.
func WithStatusCallback(callbackURL string) Option {
	return func(c *Client) {
		c.statusCallback = strings.TrimSpace(callbackURL)
	}
}

// Client posts messages to the Twilio Messages resource.
type Client struct {
	logger         zerolog.Logger
	creds          Credentials
	httpClient     HTTPClient
	baseURL        string
	statusCallback string
	maxBodyBytes   int64
}

// NewClient constructs a client.
func NewClient(creds Credentials, logger zerolog.Logger, opts ...Option) (*Client, error) {
	creds.AccountSID = strings.TrimSpace(creds.AccountSID)
	creds.AuthToken = strings.TrimSpace(creds.AuthToken)
	if creds.AccountSID == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if creds.AuthToken == "" {
		return nil, errors.New("twilio: auth token is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:       logger.With().Str("component", "twilio_client").Logger(),
		creds:        creds,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		maxBodyBytes: defaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Message is one outbound Messages.json request.
type Message struct {
	From string
	To   string
	Body string
	// ContentSID selects an approved content template; ContentVariables fills it.
	ContentSID       string
	ContentVariables map[string]string
}

// Response is the accepted message resource.
type Response struct {
	SID        string
	Status     string
	HTTPStatus int
	Body       string
}

// APIError is a non 2xx reply. It exposes the HTTP status and the Twilio error
// code to the failure classifier.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("twilio: error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("twilio: http %d: %s", e.HTTPStatus, e.Message)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.HTTPStatus }

// GatewayCode returns the Twilio error code, or "" when absent.
func (e *APIError) GatewayCode() string {
	if e.Code == 0 {
		return ""
	}
	return strconv.Itoa(e.Code)
}

// Send posts a message and returns the created resource.
func (c *Client) Send(ctx context.Context, msg Message) (*Response, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errors.New("twilio: recipient is required")
	}
	if strings.TrimSpace(msg.From) == "" {
		return nil, errors.New("twilio: sender is required")
	}

	params := url.Values{}
	params.Set("To", msg.To)
	params.Set("From", msg.From)
	if msg.ContentSID != "" {
		params.Set("ContentSid", msg.ContentSID)
		if len(msg.ContentVariables) > 0 {
			vars, err := json.Marshal(msg.ContentVariables)
			if err != nil {
				return nil, fmt.Errorf("twilio: encode content variables: %w", err)
			}
			params.Set("ContentVariables", string(vars))
		}
	} else {
		params.Set("Body", msg.Body)
	}
	if c.statusCallback != "" {
		params.Set("StatusCallback", c.statusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: new request: %w", err)
	}
	req.SetBasicAuth(c.creds.AccountSID, c.creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	parsed := parseBody(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status := parsed.Status
		if status == "" {
			status = "queued"
		}
		return &Response{SID: parsed.SID, Status: status, HTTPStatus: resp.StatusCode, Body: body}, nil
	}

	message := parsed.Message
	if message == "" {
		message = strings.TrimSpace(body)
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug().
		Int("http_status", resp.StatusCode).
		Int("twilio_code", parsed.ErrorCode).
		Msg("twilio: request rejected")
	return nil, &APIError{HTTPStatus: resp.StatusCode, Code: parsed.ErrorCode, Message: message, Body: body}
}

func (c *Client) readBody(rc io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(rc, c.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("twilio: read body: %w", err)
	}
	return string(data), nil
}

type body struct {
	SID       string
	Status    string
	ErrorCode int
	Message   string
}

// parseBody tolerates codes encoded as numbers or strings.
func parseBody(raw string) body {
	if strings.TrimSpace(raw) == "" {
		return body{}
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return body{}
	}

	out := body{}
	if v, ok := generic["sid"].(string); ok {
		out.SID = v
	}
	if v, ok := generic["status"].(string); ok {
		out.Status = v
	}
	if v, ok := generic["message"].(string); ok {
		out.Message = v
	}
	switch v := generic["code"].(type) {
	case float64:
		out.ErrorCode = int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			out.ErrorCode = n
		}
	}
	return out
}

// FormatWhatsAppAddress prefixes a number with the whatsapp: scheme.
func FormatWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "whatsapp:") {
		return "whatsapp:" + strings.TrimSpace(trimmed[len("whatsapp:"):])
	}
	return "whatsapp:" + trimmed
}
