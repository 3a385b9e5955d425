package bibliofabric

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/utsmok/bibliofabric/internal/constants"
)

// Kind identifies the failure category of a FrameworkError.
type Kind int

const (
	// KindConfig marks invalid or missing settings. Never retried.
	KindConfig Kind = iota

	// KindAuth marks credential acquisition or injection failures, and
	// 401/403 responses received after authentication was applied.
	KindAuth

	// KindNetwork marks transport-level failures after retries are exhausted.
	KindNetwork

	// KindTimeout marks requests that exceeded their time budget.
	KindTimeout

	// KindAPI marks non-success statuses not covered by a narrower kind.
	KindAPI

	// KindNotFound marks 404 responses. A subtype of KindAPI.
	KindNotFound

	// KindRateLimit marks 429 responses persisting after retries. A subtype
	// of KindAPI.
	KindRateLimit

	// KindValidation marks invalid request arguments or unparseable
	// response bodies. Never retried.
	KindValidation
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAPI:
		return "api"
	case KindNotFound:
		return "not found"
	case KindRateLimit:
		return "rate limit"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sentinel errors for matching with errors.Is. Matching ErrAPI also matches
// the NotFound and RateLimit kinds, mirroring the taxonomy's subtype rule.
var (
	ErrConfig     = errors.New("bibliofabric: configuration error")
	ErrAuth       = errors.New("bibliofabric: authentication error")
	ErrNetwork    = errors.New("bibliofabric: network error")
	ErrTimeout    = errors.New("bibliofabric: timeout")
	ErrAPI        = errors.New("bibliofabric: api error")
	ErrNotFound   = errors.New("bibliofabric: not found")
	ErrRateLimit  = errors.New("bibliofabric: rate limited")
	ErrValidation = errors.New("bibliofabric: validation error")
)

// FrameworkError is the root error type surfaced by the framework. Every
// failure leaving the engine or the resource bindings is a *FrameworkError;
// callers can match the root with errors.As to treat all framework failures
// uniformly, or match a sentinel with errors.Is for a specific kind.
type FrameworkError struct {
	Kind    Kind
	Message string

	// Request descriptor, when a request was formed.
	Method string
	URL    string

	// Response descriptor, when a response was received.
	StatusCode  int
	Headers     http.Header
	BodySnippet string

	// Attempts counts HTTP attempts made before the error surfaced.
	Attempts int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *FrameworkError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status: %d, url: %s)", msg, e.StatusCode, e.URL)
	} else if e.URL != "" {
		msg = fmt.Sprintf("%s (url: %s)", msg, e.URL)
	}

	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (attempts: %d)", msg, e.Attempts)
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is matching against the kind sentinels.
func (e *FrameworkError) Is(target error) bool {
	switch target {
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrAPI:
		return e.Kind == KindAPI || e.Kind == KindNotFound || e.Kind == KindRateLimit
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrRateLimit:
		return e.Kind == KindRateLimit
	case ErrValidation:
		return e.Kind == KindValidation
	}

	return false
}

// newError builds a FrameworkError with just a kind and message.
func newError(kind Kind, format string, args ...any) *FrameworkError {
	return &FrameworkError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapError builds a FrameworkError around an underlying cause.
func wrapError(kind Kind, err error, format string, args ...any) *FrameworkError {
	return &FrameworkError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// withRequest attaches the request descriptor.
func (e *FrameworkError) withRequest(method, url string) *FrameworkError {
	e.Method = method
	e.URL = url

	return e
}

// withResponse attaches the response descriptor, bounding the body snippet.
func (e *FrameworkError) withResponse(status int, headers http.Header, body []byte) *FrameworkError {
	e.StatusCode = status
	e.Headers = headers
	e.BodySnippet = bodySnippet(body)

	return e
}

// bodySnippet truncates a response body for error reporting.
func bodySnippet(body []byte) string {
	if len(body) > constants.BodySnippetLimit {
		return string(body[:constants.BodySnippetLimit])
	}

	return string(body)
}

// IsConfig checks if the error is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsAuth checks if the error is an authentication error.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNetwork checks if the error is a transport-level error.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsTimeout checks if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsAPI checks if the error is an API error, including the not-found and
// rate-limit subtypes.
func IsAPI(err error) bool {
	return errors.Is(err, ErrAPI)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimit checks if the error is a rate-limit error.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
