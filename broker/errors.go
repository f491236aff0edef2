package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyResponse indicates the broker returned an empty or non-JSON body.
	ErrEmptyResponse = errors.New("broker returned empty or malformed response")

	// ErrUpstreamOAuth indicates the broker reported an error during the
	// OAuth handshake.
	ErrUpstreamOAuth = errors.New("broker oauth error")
)

// HTTPError is a non-2xx broker response with the broker-supplied message
// extracted from its error body.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("broker returned status %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a broker 401, which means the
// access token is no longer accepted.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 401
}

// extractErrorMessage pulls a human-readable message out of the broker's
// error body. The broker uses several shapes depending on the endpoint:
// {"errors":[{"message":...}]}, {"error_description":...} and {"error":...}.
func extractErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		ErrorDescription string          `json:"error_description"`
		ErrorField       json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Non-JSON error bodies are surfaced verbatim, truncated.
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return trimmed
	}

	if len(envelope.Errors) > 0 && envelope.Errors[0].Message != "" {
		return envelope.Errors[0].Message
	}
	if envelope.ErrorDescription != "" {
		return envelope.ErrorDescription
	}
	if len(envelope.ErrorField) > 0 {
		var s string
		if err := json.Unmarshal(envelope.ErrorField, &s); err == nil {
			return s
		}
		return string(envelope.ErrorField)
	}
	return ""
}
