package twilio

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Scenario names a canned gateway behaviour used by the mock providers.
type Scenario string

const (
	ScenarioSuccess          Scenario = "success"
	ScenarioTransient        Scenario = "transient"
	ScenarioRateLimited      Scenario = "rate_limited"
	ScenarioPermanent        Scenario = "permanent"
	ScenarioNotOptedIn       Scenario = "not_opted_in"
	ScenarioBlocked          Scenario = "blocked"
	ScenarioTemplateNotFound Scenario = "template_not_found"
	ScenarioTimeout          Scenario = "timeout"
)

// ParseScenario normalises a scenario name.
func ParseScenario(value string) Scenario {
	return Scenario(strings.ToLower(strings.TrimSpace(value)))
}

// Simulate returns what the Messages resource would answer for a scenario.
// The timeout scenario blocks until ctx is done.
func Simulate(ctx context.Context, s Scenario) (*Response, error) {
	switch s {
	case ScenarioSuccess, "":
		return &Response{Status: "queued", HTTPStatus: http.StatusCreated}, nil
	case ScenarioTransient:
		return nil, apiError(http.StatusServiceUnavailable, 0, "service unavailable")
	case ScenarioRateLimited:
		return nil, apiError(http.StatusTooManyRequests, 20429, "too many requests")
	case ScenarioPermanent:
		return nil, apiError(http.StatusBadRequest, 21211, "the 'To' number is not a valid phone number")
	case ScenarioNotOptedIn:
		return nil, apiError(http.StatusBadRequest, 63016, "user not opted in")
	case ScenarioBlocked:
		return nil, apiError(http.StatusBadRequest, 21610, "attempt to send to unsubscribed recipient")
	case ScenarioTemplateNotFound:
		return nil, apiError(http.StatusNotFound, 0, "template not found")
	case ScenarioTimeout:
		<-ctx.Done()
		return nil, fmt.Errorf("twilio: http do: %w", ctx.Err())
	default:
		return nil, fmt.Errorf("twilio: unknown mock scenario %q", s)
	}
}

func apiError(status, code int, message string) *APIError {
	body := fmt.Sprintf(`{"code":%d,"message":%q,"status":%d}`, code, message, status)
	return &APIError{HTTPStatus: status, Code: code, Message: message, Body: body}
}
