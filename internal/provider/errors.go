package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAPI is matched by every *APIError.
	ErrAPI = errors.New("provider api error")

	// ErrUnauthorized is matched by an *APIError whose status means the
	// stored credentials were rejected.
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrTransport is matched by a *TransportError.
	ErrTransport = errors.New("provider transport error")

	// ErrIntegration reports a misconfigured integration: missing
	// instance URL, unusable metadata, unsupported provider.
	ErrIntegration = errors.New("integration error")
)

// APIError is a non-2xx response from a provider REST API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string

	// RetryAfterDelay is parsed from the Retry-After header on 429 and
	// 503 responses. Zero when the header was absent.
	RetryAfterDelay time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets callers test with errors.Is(err, ErrAPI) and
// errors.Is(err, ErrUnauthorized).
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAPI:
		return true
	case ErrUnauthorized:
		return e.StatusCode == 401 || (e.StatusCode == 403 && !isRateLimitMessage(e.Message))
	}
	return false
}

// RetryAfter returns the delay the provider asked for.
func (e *APIError) RetryAfter() time.Duration { return e.RetryAfterDelay }

// TransportError is a request that failed before the provider answered:
// DNS, connection refused, TLS, timeout.
type TransportError struct {
	Provider string
	Method   string
	URL      string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Provider, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport and ErrAPI. An unreachable host is a provider
// API failure like any error response.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || target == ErrAPI
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 404
}

// IsRateLimited reports whether err is a provider rate limit response.
// GitHub signals its primary limit with 403 and a recognizable message.
func IsRateLimited(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == 429 || (apiError.StatusCode == 403 && isRateLimitMessage(apiError.Message))
}

// IsTransient reports whether err is a provider failure worth retrying
// as-is: rate limiting, a server-side failure or an unreachable host.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return IsRateLimited(err) || apiError.StatusCode >= 500
}

func integrationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegration, fmt.Sprintf(format, args...))
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection")
}
