// Package provider holds the error taxonomy and retry policy shared by the
// completion and search clients.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrAuth        = errors.New("authentication failed")
	ErrTimeout     = errors.New("timed out")
	ErrUnavailable = errors.New("provider unavailable")
	ErrBadRequest  = errors.New("bad request")
)

// statusInMessageRE finds a status code only where a message labels it as
// one, such as "Error 429," or "status code: 503" or "http 500".
var statusInMessageRE = regexp.MustCompile(`(?:\berror|\bstatus(?: code)?|\bhttp(?:/\d(?:\.\d)?)?)\s*[:=]?\s*(400|401|403|404|408|422|429|500|502|503|504)\b`)

// ProviderError is a transport, auth or quota failure from an external provider.
type ProviderError struct {
	Provider   string
	Kind       error
	StatusCode int
	// RetryAfter is the wait the provider asked for before the next attempt.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindForStatus maps an HTTP status code to an error kind. It returns nil for
// codes that do not indicate a failure.
func KindForStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrUnavailable
	case code >= 400:
		return ErrBadRequest
	default:
		return nil
	}
}

// FromStatus builds a ProviderError for a non-2xx HTTP response.
func FromStatus(name string, code int, err error) *ProviderError {
	kind := KindForStatus(code)
	if kind == nil {
		kind = ErrUnavailable
	}
	return &ProviderError{Provider: name, Kind: kind, StatusCode: code, Err: err}
}

// Classify wraps err in a ProviderError, inferring the kind from context
// errors, network timeouts and status codes embedded in SDK messages. Errors
// that are already classified are returned unchanged.
func Classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: name, Kind: ErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: name, Kind: ErrTimeout, Err: err}
	}
	message := strings.ToLower(err.Error())
	if match := statusInMessageRE.FindStringSubmatch(message); len(match) == 2 {
		if code, convErr := strconv.Atoi(match[1]); convErr == nil {
			return FromStatus(name, code, err)
		}
	}
	if strings.Contains(message, "timeout") || strings.Contains(message, "timed out") {
		return &ProviderError{Provider: name, Kind: ErrTimeout, Err: err}
	}
	if strings.Contains(message, "connection reset") || strings.Contains(message, "connection refused") {
		return &ProviderError{Provider: name, Kind: ErrUnavailable, Err: err}
	}
	return &ProviderError{Provider: name, Kind: ErrUnavailable, Err: err}
}

// RetryDelay returns the wait a provider asked for, or zero.
func RetryDelay(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
