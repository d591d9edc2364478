// Package classify maps raw failure signals from remote calls to a
// failure category and a suggested recovery action.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
)

// HTTPError is a failure signal carrying an HTTP status from the platform API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 = no hint
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// NetworkError is a connection-level failure signal.
type NetworkError struct {
	Code string // e.g. "timeout", "dns", "connection-reset"
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s): %v", e.Code, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a structured validation failure from the remote side.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.Fields))
}

// ClassifiedError pairs a failure category with a recovery suggestion.
type ClassifiedError struct {
	Category domain.FailureCategory
	Recovery string
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

const (
	recoveryTransient = "retry with backoff"
	recoveryAuth      = "check credentials, tokens, or permissions"
	recoveryResource  = "verify the resource, branch, or workflow still exists"
	recoveryLogic     = "inspect the request payload or business-rule violation"
	recoveryUnknown   = "inspect logs; consider manual retry or escalation"
)

// Classify maps an error to a category and recovery hint. First match wins:
// rate limits and connection failures are transient, 401/403 auth,
// 404 resource, 422 and validation errors logic, everything else unknown.
// Pure function: deterministic, no side effects, never panics.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())

	var httpErr *HTTPError
	status := 0
	if errors.As(err, &httpErr) {
		status = httpErr.Status
	}

	switch {
	case status == 429,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		isConnectionFailure(err, msg):
		return &ClassifiedError{Category: domain.CategoryTransient, Recovery: recoveryTransient, Err: err}

	case status == 401, status == 403,
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "credentials"),
		strings.Contains(msg, "forbidden"):
		return &ClassifiedError{Category: domain.CategoryAuth, Recovery: recoveryAuth, Err: err}

	case status == 404,
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "no such branch"),
		strings.Contains(msg, "unknown revision"),
		strings.Contains(msg, "workflow does not exist"):
		return &ClassifiedError{Category: domain.CategoryResource, Recovery: recoveryResource, Err: err}

	case status == 422, isValidation(err):
		return &ClassifiedError{Category: domain.CategoryLogic, Recovery: recoveryLogic, Err: err}
	}

	return &ClassifiedError{Category: domain.CategoryUnknown, Recovery: recoveryUnknown, Err: err}
}

// RetryAfterHint extracts an explicit "retry after" duration from the signal,
// if the remote side provided one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter, true
	}
	return 0, false
}

func isConnectionFailure(err error, msg string) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var timeoutErr net.Error
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}

func isValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
