package bibliofabric

import (
	"time"

	"github.com/utsmok/bibliofabric/internal/constants"
)

// Settings holds the tunable knobs the engine consumes.
//
// A zero Settings value is not usable; start from DefaultSettings and adjust.
// Validate rejects invalid combinations with a configuration error, and
// Engine construction calls it for you.
type Settings struct {
	// RequestTimeout bounds a single HTTP request attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxRetries is the number of retries after the initial attempt for
	// retryable failures. Zero disables retries.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// BackoffFactor is the base delay for exponential backoff between
	// retries; the delay before retry n is BackoffFactor * 2^(n-1).
	BackoffFactor time.Duration `mapstructure:"backoff_factor" yaml:"backoff_factor"`

	// RetryJitter applies bounded random jitter (up to ±25%) to backoff
	// delays when true.
	RetryJitter bool `mapstructure:"retry_jitter" yaml:"retry_jitter"`

	// UserAgent is sent as the User-Agent header on every request.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// EnableRateLimiting turns proactive pausing on or off when the remaining
	// quota falls within RateLimitBuffer. Rate-limit headers are recorded and
	// 429 Retry-After pauses are honored either way.
	EnableRateLimiting bool `mapstructure:"enable_rate_limiting" yaml:"enable_rate_limiting"`

	// RateLimitBuffer is the remaining/limit fraction below which the engine
	// pauses until the reported reset time. Must be within [0, 1].
	RateLimitBuffer float64 `mapstructure:"rate_limit_buffer" yaml:"rate_limit_buffer"`

	// DefaultRetryAfter is the pause applied to a 429 response that carries
	// no usable Retry-After header.
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" yaml:"default_retry_after"`

	// EnableCaching turns the client-side response cache on or off.
	EnableCaching bool `mapstructure:"enable_caching" yaml:"enable_caching"`

	// CacheTTL is the lifetime of a cache entry.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// CacheMaxSize is the capacity of the LRU cache.
	CacheMaxSize int `mapstructure:"cache_max_size" yaml:"cache_max_size"`

	// PreRequestHooks run in order just before each request attempt is
	// dispatched. A hook error aborts the request.
	PreRequestHooks []PreRequestHook `mapstructure:"-" yaml:"-"`

	// PostResponseHooks run in order just after each response is received.
	// A hook error aborts retries.
	PostResponseHooks []PostResponseHook `mapstructure:"-" yaml:"-"`
}

// DefaultSettings returns settings with the library defaults applied.
func DefaultSettings() *Settings {
	return &Settings{
		RequestTimeout:     constants.DefaultRequestTimeout,
		MaxRetries:         constants.DefaultMaxRetries,
		BackoffFactor:      constants.DefaultBackoffFactor,
		RetryJitter:        true,
		UserAgent:          constants.DefaultUserAgent,
		EnableRateLimiting: true,
		RateLimitBuffer:    constants.DefaultRateLimitBuffer,
		DefaultRetryAfter:  constants.DefaultRetryAfter,
		EnableCaching:      false,
		CacheTTL:           constants.DefaultCacheTTL,
		CacheMaxSize:       constants.DefaultCacheSize,
	}
}

// Validate checks the settings for invalid combinations.
func (s *Settings) Validate() error {
	if s.RequestTimeout <= 0 {
		return newError(KindConfig, "request_timeout must be positive, got %s", s.RequestTimeout)
	}

	if s.MaxRetries < 0 {
		return newError(KindConfig, "max_retries must not be negative, got %d", s.MaxRetries)
	}

	if s.BackoffFactor <= 0 {
		return newError(KindConfig, "backoff_factor must be positive, got %s", s.BackoffFactor)
	}

	if s.UserAgent == "" {
		return newError(KindConfig, "user_agent must not be empty")
	}

	if s.RateLimitBuffer < 0 || s.RateLimitBuffer > 1 {
		return newError(KindConfig, "rate_limit_buffer must be within [0, 1], got %g", s.RateLimitBuffer)
	}

	if s.DefaultRetryAfter <= 0 {
		return newError(KindConfig, "default_retry_after must be positive, got %s", s.DefaultRetryAfter)
	}

	if s.CacheTTL <= 0 {
		return newError(KindConfig, "cache_ttl must be positive, got %s", s.CacheTTL)
	}

	if s.CacheMaxSize <= 0 {
		return newError(KindConfig, "cache_max_size must be positive, got %d", s.CacheMaxSize)
	}

	return nil
}
