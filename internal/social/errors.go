package social

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotConnected means no token was ever stored: the vendor must
	// connect the account for the first time.
	ErrNotConnected = errors.New("social: account not connected")

	// ErrStateMismatch means the callback's state does not match the one
	// issued by Begin. The code is never exchanged.
	ErrStateMismatch = errors.New("social: oauth state mismatch")

	// ErrReconnectRequired means a token exists but can't be renewed
	// (no refresh token, or the provider revoked it).
	ErrReconnectRequired = errors.New("social: reconnect required")
)

// ProviderError is a non-success answer from the provider, either on the
// OAuth endpoints or the posting API.
type ProviderError struct {
	Status      int
	Code        string
	Description string
	Body        string
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("social: provider error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// NeedsReconnect reports whether only a fresh authorization can fix this.
func (e *ProviderError) NeedsReconnect() bool {
	if e.Status == http.StatusUnauthorized {
		return true
	}
	switch e.Code {
	case "invalid_token", "invalid_grant", "unauthorized_client":
		return true
	case "invalid_request":
		return strings.Contains(strings.ToLower(e.Description), "authorization header")
	}
	return false
}

// ScopeDenied reports whether the token lacks a permission the call needs.
func (e *ProviderError) ScopeDenied() bool {
	return e.Status == http.StatusForbidden
}

// NetworkError is a failure to reach the provider at all: DNS, timeout,
// connection reset, or the circuit breaker refusing the call.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("social: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RefreshError wraps why a refresh exchange failed. It is distinct from
// ErrNotConnected because the remedy is a reconnect, not a first connect.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "social: token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

// NeedsReconnect reports whether err can only be fixed by sending the
// vendor through the authorization flow again.
func NeedsReconnect(err error) bool {
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrReconnectRequired) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.NeedsReconnect()
}

// ScopeDenied reports whether err is the provider refusing for lack of scope.
func ScopeDenied(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.ScopeDenied()
}

// providerBody covers the OAuth error shape, RFC 7807 problem details and
// the legacy {"errors":[...]} list.
type providerBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Title            string `json:"title"`
	Detail           string `json:"detail"`
	Errors           []struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	} `json:"errors"`
}

const maxErrorBody = 512

// parseProviderError never fails: an empty or unparsable body still yields
// an error carrying the status.
func parseProviderError(status int, body []byte) *ProviderError {
	pe := &ProviderError{Status: status, Body: truncate(string(body), maxErrorBody)}

	var pb providerBody
	if err := json.Unmarshal(body, &pb); err != nil {
		pe.Code = http.StatusText(status)
		return pe
	}

	pe.Code = firstNonEmpty(pb.Error, pb.Title)
	pe.Description = firstNonEmpty(pb.ErrorDescription, pb.Detail)
	if len(pb.Errors) > 0 {
		first := pb.Errors[0]
		if pe.Code == "" {
			pe.Code = strings.Trim(string(first.Code), `"`)
		}
		if pe.Description == "" {
			pe.Description = first.Message
		}
	}
	if pe.Code == "" {
		pe.Code = http.StatusText(status)
	}
	return pe
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
