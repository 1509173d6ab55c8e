package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
)

// Error is a classified publish failure.
type Error struct {
	Kind       Kind
	Platform   string
	Code       string
	Message    string
	Details    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Platform, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is true for rate limits and transient failures only. Auth
// failures need a re-authorization outside this service.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

func newError(kind Kind, platform, code, message string) *Error {
	return &Error{Kind: kind, Platform: platform, Code: code, Message: message}
}

func ConfigurationError(platform, code, message string) *Error {
	return newError(KindConfiguration, platform, code, message)
}

func AuthError(platform, code, message string) *Error {
	return newError(KindAuth, platform, code, message)
}

func RateLimitError(platform, code, message string, retryAfter time.Duration) *Error {
	e := newError(KindRateLimit, platform, code, message)
	e.RetryAfter = retryAfter
	return e
}

func TransientError(platform, code, message string) *Error {
	return newError(KindTransient, platform, code, message)
}

func PermanentError(platform, code, message string) *Error {
	return newError(KindPermanent, platform, code, message)
}

// UnconfirmedError reports a publish the platform accepted without saying
// what it created. It is not retried: the post may already be live, and an
// operator has to reconcile it.
func UnconfirmedError(platform, message string) *Error {
	return PermanentError(platform, "unconfirmed", message)
}

// Classify maps any error onto the publish taxonomy. Errors that carry no
// classification are treated as transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Code: "timeout", Message: "publish call timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransient, Code: "canceled", Message: "publish call was canceled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindTransient, Code: "network", Message: err.Error(), Err: err}
	}

	return &Error{Kind: KindTransient, Code: "unknown", Message: err.Error(), Err: err}
}

// classifyStatus turns a non-2xx platform response into an Error.
func classifyStatus(platform string, status int, header http.Header, details string) *Error {
	code := strconv.Itoa(status)
	message := fmt.Sprintf("unexpected status code %d", status)

	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = AuthError(platform, code, message)
	case status == http.StatusTooManyRequests:
		e = RateLimitError(platform, code, message, retryAfter(header))
	case status >= 500 || status == http.StatusRequestTimeout:
		e = TransientError(platform, code, message)
	default:
		e = PermanentError(platform, code, message)
	}
	e.Details = details
	return e
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// classifySDKError inspects the text of errors from client libraries that
// do not expose the HTTP status in a typed way.
func classifySDKError(platform string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e := Classify(err)
		e.Platform = platform
		return e
	}

	msg := strings.ToLower(err.Error())
	var e *Error
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "user not found"):
		e = AuthError(platform, "unauthorized", err.Error())
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		e = RateLimitError(platform, "rate_limited", err.Error(), 0)
	case strings.Contains(msg, "400") || strings.Contains(msg, "422") || strings.Contains(msg, "duplicate"):
		e = PermanentError(platform, "rejected", err.Error())
	default:
		e = TransientError(platform, "sdk_error", err.Error())
	}
	e.Err = err
	return e
}
