package bibliofabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/utsmok/bibliofabric/internal/constants"
	"github.com/utsmok/bibliofabric/internal/ratelimit"
)

// Request describes one API call to the engine. The descriptor is mutable:
// pre-request hooks may adjust Query and Headers before dispatch.
type Request struct {
	// Method is the HTTP method. Only GET and HEAD responses are cacheable;
	// any method may be retried.
	Method string

	// Path is joined onto the engine's base URL.
	Path string

	// Query holds the query parameters.
	Query url.Values

	// Body, when non-nil, is JSON-encoded into the request body.
	Body any

	// Headers holds additional request headers.
	Headers http.Header

	// Raw skips JSON parsing of the response body when true.
	Raw bool

	// NoCache bypasses the response cache for this call when true.
	NoCache bool

	// MaxRetries overrides the configured retry budget for this call.
	MaxRetries *int

	// BodyFingerprint is folded into the cache key for callers that include
	// a request body in an idempotent call.
	BodyFingerprint string
}

// Response is the engine's result for one API call.
type Response struct {
	// StatusCode is the HTTP status.
	StatusCode int

	// Headers holds the response headers. Nil for cache hits.
	Headers http.Header

	// Body is the raw response body.
	Body []byte

	// Document is the parsed JSON body; nil when Request.Raw was set. An
	// empty body parses to an empty document.
	Document map[string]any

	// Attempts counts HTTP attempts made; zero for cache hits.
	Attempts int

	// FromCache reports whether the response was served from the cache.
	FromCache bool
}

// RateLimitState is a point-in-time copy of the engine's rate-limit view.
type RateLimitState struct {
	// Limit and Remaining are the last observed quota values, -1 when unknown.
	Limit     int
	Remaining int

	// ResetAt is the last observed quota reset time; zero when unknown.
	ResetAt time.Time

	// PauseUntil is the time before which no request will be dispatched.
	PauseUntil time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHTTPClient replaces the engine's HTTP client. The engine still closes
// the client's transport on Close.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = client
	}
}

// WithCache replaces the engine's cache backend.
func WithCache(cache Cache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// Engine is the resilient request core. It owns the HTTP transport, the
// response cache, and the rate-limit tracker, and orchestrates
// authentication, hooks, retries, and error classification for every call.
// A single engine supports many concurrent in-flight calls; create one per
// logical API binding and release it with Close.
type Engine struct {
	baseURL    *url.URL
	settings   *Settings
	envelope   ResponseEnvelope
	auth       AuthStrategy
	httpClient *http.Client
	cache      Cache
	limiter    *ratelimit.Tracker
	logger     Logger
	closed     atomic.Bool
}

// New creates an engine for the given API base URL. Settings are validated;
// invalid combinations are rejected with a configuration error. A nil
// strategy means no authentication.
func New(baseURL string, settings *Settings, envelope ResponseEnvelope, strategy AuthStrategy, opts ...Option) (*Engine, error) {
	if settings == nil {
		settings = DefaultSettings()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if envelope == nil {
		return nil, newError(KindConfig, "response envelope is required")
	}

	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, newError(KindConfig, "base URL %q is not an absolute URL", baseURL)
	}

	if strategy == nil {
		strategy = NoAuth{}
	}

	engine := &Engine{
		baseURL:  parsed,
		settings: settings,
		envelope: envelope,
		auth:     strategy,
		limiter:  ratelimit.New(settings.EnableRateLimiting, settings.RateLimitBuffer, settings.DefaultRetryAfter),
		logger:   NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.httpClient == nil {
		engine.httpClient = &http.Client{Transport: cleanhttp.DefaultPooledTransport()}
	}

	if engine.cache == nil && settings.EnableCaching {
		engine.cache = NewMemoryCache(settings.CacheMaxSize)
	}

	return engine, nil
}

// Envelope returns the engine's response envelope.
func (e *Engine) Envelope() ResponseEnvelope {
	return e.envelope
}

// Settings returns the engine's settings.
func (e *Engine) Settings() *Settings {
	return e.settings
}

// RateLimit returns the current rate-limit view.
func (e *Engine) RateLimit() RateLimitState {
	snap := e.limiter.Snapshot()

	return RateLimitState{
		Limit:      snap.Limit,
		Remaining:  snap.Remaining,
		ResetAt:    snap.ResetAt,
		PauseUntil: snap.PauseUntil,
	}
}

// Get performs a GET request.
func (e *Engine) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return e.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Head performs a HEAD request.
func (e *Engine) Head(ctx context.Context, path string, query url.Values) (*Response, error) {
	return e.Do(ctx, &Request{Method: http.MethodHead, Path: path, Query: query})
}

// Do performs a request with caching, rate gating, authentication, hooks,
// retries, and error classification. All failures surface as
// *FrameworkError values.
func (e *Engine) Do(ctx context.Context, req *Request) (*Response, error) {
	if e.closed.Load() {
		return nil, newError(KindConfig, "engine is closed").withRequest(req.Method, req.Path)
	}

	if req.Method == "" || req.Path == "" {
		return nil, newError(KindValidation, "request method and path are required")
	}

	if req.Query == nil {
		req.Query = url.Values{}
	}

	if req.Headers == nil {
		req.Headers = http.Header{}
	}

	maxRetries := e.settings.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, newError(KindValidation, "max retries override must not be negative, got %d", *req.MaxRetries)
		}

		maxRetries = *req.MaxRetries
	}

	method := strings.ToUpper(req.Method)
	target := e.resolveURL(req.Path)

	// The cache key is derived from the pre-hook request; hooks may mutate
	// query parameters but the mutated call is still cached under this key.
	cacheable := e.cacheEligible(method, req)

	var cacheKey string
	if cacheable {
		cacheKey = CacheKey(method, target, req.Query, req.BodyFingerprint)

		if resp, ok := e.cacheLookup(ctx, cacheKey, req.Raw); ok {
			e.logger.Debug("cache hit", map[string]interface{}{"method": method, "path": req.Path})

			return resp, nil
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, e.contextError(err, method, target.String(), 0)
	}

	var (
		lastErr      error
		attemptsMade int
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attemptsMade = attempt + 1
		resp, retryable, err := e.attempt(ctx, method, target, req)
		if err == nil {
			resp.Attempts = attempt + 1

			if cacheable && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				e.cacheStore(ctx, cacheKey, resp)
			}

			return resp, nil
		}

		lastErr = err

		if !retryable || attempt == maxRetries {
			break
		}

		delay := e.retryDelay(attempt, resp)

		e.logger.Info("retrying request", map[string]interface{}{
			"method":  method,
			"url":     target.String(),
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		if err := sleepContext(ctx, delay); err != nil {
			return nil, e.contextError(err, method, target.String(), attempt+1)
		}
	}

	var frameworkErr *FrameworkError
	if errors.As(lastErr, &frameworkErr) && frameworkErr.Attempts == 0 {
		frameworkErr.Attempts = attemptsMade
	}

	return nil, lastErr
}

// attempt executes a single request attempt. The returned response is
// non-nil when a response was received, even on error, so the retry
// scheduler can consult its status.
func (e *Engine) attempt(ctx context.Context, method string, target *url.URL, req *Request) (*Response, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.settings.RequestTimeout)
	defer cancel()

	httpReq, err := e.buildRequest(attemptCtx, method, target, req)
	if err != nil {
		return nil, false, err
	}

	// Authentication runs for every outbound request, before the hooks see
	// the descriptor.
	if err := e.auth.Apply(attemptCtx, httpReq); err != nil {
		var frameworkErr *FrameworkError
		if errors.As(err, &frameworkErr) {
			frameworkErr.withRequest(method, target.String())

			return nil, false, err
		}

		return nil, false, wrapError(KindAuth, err, "applying authentication").withRequest(method, target.String())
	}

	// Expose the outbound headers to the hooks through the descriptor.
	req.Headers = httpReq.Header

	for i, hook := range e.settings.PreRequestHooks {
		if err := hook(ctx, req); err != nil {
			return nil, false, wrapError(KindValidation, err, "pre-request hook %d failed", i).withRequest(method, target.String())
		}
	}

	// Hooks may have adjusted the query parameters.
	httpReq.URL.RawQuery = req.Query.Encode()

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		retryable, transportErr := e.classifyTransport(ctx, err, method, target.String())

		return nil, retryable, transportErr
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, wrapError(KindNetwork, err, "reading response body").withRequest(method, target.String())
	}

	e.limiter.Observe(httpResp.StatusCode, httpResp.Header)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	var classifyErr error

	statusErr, retryable := e.classifyStatus(method, target.String(), resp)
	if statusErr != nil {
		classifyErr = statusErr
	}

	if classifyErr == nil && !req.Raw && method != http.MethodHead {
		doc, parseErr := parseDocument(body)
		if parseErr != nil {
			classifyErr = wrapError(KindValidation, parseErr, "parsing response body").
				withRequest(method, target.String()).
				withResponse(resp.StatusCode, resp.Headers, body)
			retryable = false
		} else {
			resp.Document = doc
		}
	}

	for i, hook := range e.settings.PostResponseHooks {
		if err := hook(ctx, req, resp, classifyErr); err != nil {
			return resp, false, wrapError(KindValidation, err, "post-response hook %d failed", i).withRequest(method, target.String())
		}
	}

	if classifyErr != nil {
		return resp, retryable, classifyErr
	}

	return resp, false, nil
}

// classifyStatus maps a response status onto the error taxonomy and decides
// retryability.
func (e *Engine) classifyStatus(method, target string, resp *Response) (*FrameworkError, bool) {
	status := resp.StatusCode

	switch {
	case status >= 200 && status < 300:
		return nil, false

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(KindAuth, "API rejected credentials").
			withRequest(method, target).
			withResponse(status, resp.Headers, resp.Body), false

	case status == http.StatusNotFound:
		return newError(KindNotFound, "resource not found").
			withRequest(method, target).
			withResponse(status, resp.Headers, resp.Body), false

	case status == http.StatusTooManyRequests:
		return newError(KindRateLimit, "API rate limit exceeded").
			withRequest(method, target).
			withResponse(status, resp.Headers, resp.Body), true

	case status == http.StatusRequestTimeout || status == http.StatusTooEarly || status >= 500:
		return newError(KindAPI, "API request failed with status %d", status).
			withRequest(method, target).
			withResponse(status, resp.Headers, resp.Body), true

	default:
		return newError(KindAPI, "API request failed with status %d", status).
			withRequest(method, target).
			withResponse(status, resp.Headers, resp.Body), false
	}
}

// classifyTransport maps a transport-level failure onto the taxonomy.
func (e *Engine) classifyTransport(ctx context.Context, err error, method, target string) (bool, error) {
	// The caller's context ending consumes the whole time budget; the
	// per-attempt timeout only fails this attempt.
	if ctx.Err() != nil {
		return false, e.contextError(ctx.Err(), method, target, 0)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true, wrapError(KindTimeout, err, "request timed out").withRequest(method, target)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, wrapError(KindTimeout, err, "request timed out").withRequest(method, target)
	}

	return true, wrapError(KindNetwork, err, "network error").withRequest(method, target)
}

// contextError converts a context termination into the taxonomy.
func (e *Engine) contextError(err error, method, target string, attempts int) error {
	msg := "request deadline exceeded"
	if errors.Is(err, context.Canceled) {
		msg = "request canceled"
	}

	frameworkErr := wrapError(KindTimeout, err, "%s", msg).withRequest(method, target)
	frameworkErr.Attempts = attempts

	return frameworkErr
}

// buildRequest assembles the outbound http.Request for one attempt.
func (e *Engine) buildRequest(ctx context.Context, method string, target *url.URL, req *Request) (*http.Request, error) {
	var body io.Reader

	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, wrapError(KindValidation, err, "encoding request body").withRequest(method, target.String())
		}

		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, wrapError(KindValidation, err, "building request").withRequest(method, target.String())
	}

	httpReq.URL.RawQuery = req.Query.Encode()

	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpReq.Header.Set("Accept", "application/json")

	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.settings.UserAgent)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}

// retryDelay computes the wait before the next attempt.
func (e *Engine) retryDelay(attempt int, resp *Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if delay := e.limiter.Delay(); delay > 0 {
			return delay
		}

		return e.settings.DefaultRetryAfter
	}

	delay := e.settings.BackoffFactor << attempt
	if delay > constants.MaxBackoffDelay {
		delay = constants.MaxBackoffDelay
	}

	if e.settings.RetryJitter {
		spread := (rand.Float64()*2 - 1) * constants.BackoffJitterFraction
		delay = time.Duration(float64(delay) * (1 + spread))
	}

	return delay
}

// cacheEligible reports whether this call may consult and populate the cache.
func (e *Engine) cacheEligible(method string, req *Request) bool {
	if e.cache == nil || !e.settings.EnableCaching || req.NoCache {
		return false
	}

	return method == http.MethodGet || method == http.MethodHead
}

// cacheLookup serves a fresh cached response, if any.
func (e *Engine) cacheLookup(ctx context.Context, key string, raw bool) (*Response, bool) {
	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	resp := &Response{
		StatusCode: entry.StatusCode,
		Body:       entry.Data,
		FromCache:  true,
	}

	if !raw {
		doc, parseErr := parseDocument(entry.Data)
		if parseErr != nil {
			// A corrupt entry is treated as a miss.
			_ = e.cache.Delete(ctx, key)

			return nil, false
		}

		resp.Document = doc
	}

	return resp, true
}

// cacheStore writes a successful idempotent response to the cache.
func (e *Engine) cacheStore(ctx context.Context, key string, resp *Response) {
	entry := &CacheEntry{
		Data:       resp.Body,
		StatusCode: resp.StatusCode,
		ExpiresAt:  time.Now().Add(e.settings.CacheTTL),
	}

	if err := e.cache.Set(ctx, key, entry); err != nil {
		e.logger.Warn("cache store failed", map[string]interface{}{"error": err.Error()})
	}
}

// resolveURL joins the engine's base URL and a request path.
func (e *Engine) resolveURL(path string) *url.URL {
	joined := *e.baseURL
	joined.Path = strings.TrimRight(e.baseURL.Path, "/") + "/" + strings.TrimLeft(path, "/")

	return &joined
}

// Close releases the engine: it closes the underlying transport, drops all
// cached entries, and closes the auth strategy. Calls after Close fail with
// a configuration error.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.httpClient.CloseIdleConnections()

	if e.cache != nil {
		_ = e.cache.Clear(context.Background())
	}

	return e.auth.Close()
}

// parseDocument parses a JSON response body. An empty body yields an empty
// document.
func parseDocument(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON document: %w", err)
	}

	return doc, nil
}

// sleepContext waits for the delay, honoring cancellation.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
