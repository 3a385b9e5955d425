// Package ratelimit tracks server-reported rate-limit state for a single
// engine and gates outbound requests on it.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	// Limit is the last observed quota ceiling, or -1 when unknown.
	Limit int

	// Remaining is the last observed remaining quota, or -1 when unknown.
	Remaining int

	// ResetAt is the last observed quota reset time; zero when unknown.
	ResetAt time.Time

	// PauseUntil is the time before which no request should be dispatched;
	// zero when no pause is in effect.
	PauseUntil time.Time
}

// Tracker observes rate-limit response headers and derives a pause-until
// timestamp that the engine honors before dispatching requests. It is safe
// for concurrent use.
type Tracker struct {
	mu                sync.Mutex
	enabled           bool
	buffer            float64
	defaultRetryAfter time.Duration

	limit      int
	remaining  int
	resetAt    time.Time
	pauseUntil time.Time
}

// New creates a tracker. buffer is the remaining/limit fraction below which
// requests are proactively paused until the reset time; defaultRetryAfter is
// applied to 429 responses with no usable Retry-After header.
func New(enabled bool, buffer float64, defaultRetryAfter time.Duration) *Tracker {
	return &Tracker{
		enabled:           enabled,
		buffer:            buffer,
		defaultRetryAfter: defaultRetryAfter,
		limit:             -1,
		remaining:         -1,
	}
}

// Observe updates the tracker from a response's status and headers. It is
// called for every response regardless of status.
func (t *Tracker) Observe(status int, headers http.Header) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := parseIntHeader(headers, "X-RateLimit-Limit"); ok {
		t.limit = v
	}

	if v, ok := parseIntHeader(headers, "X-RateLimit-Remaining"); ok {
		t.remaining = v
	}

	if reset, ok := parseResetHeader(headers); ok {
		t.resetAt = reset
	}

	if status == http.StatusTooManyRequests {
		pause := now.Add(t.defaultRetryAfter)
		if d, ok := parseRetryAfter(headers.Get("Retry-After"), now); ok {
			pause = now.Add(d)
		}

		if pause.After(t.pauseUntil) {
			t.pauseUntil = pause
		}

		return
	}

	if !t.enabled {
		return
	}

	// Proactive pause: when the remaining quota falls below the buffer,
	// slow down until the reported reset time. Never extends an existing
	// pause further than the reset itself.
	if t.limit > 0 && t.remaining >= 0 && float64(t.remaining) <= float64(t.limit)*t.buffer {
		if t.resetAt.After(now) && (!t.pauseUntil.After(now) || t.resetAt.Before(t.pauseUntil)) {
			t.pauseUntil = t.resetAt
		}
	}
}

// PauseUntil returns the current pause deadline; zero when none is set.
func (t *Tracker) PauseUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pauseUntil
}

// Delay reports how long a caller must wait before dispatching, zero when
// dispatch is allowed immediately.
func (t *Tracker) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := time.Until(t.pauseUntil)
	if d < 0 {
		return 0
	}

	return d
}

// Wait suspends the caller until the pause deadline has passed, honoring
// context cancellation.
func (t *Tracker) Wait(ctx context.Context) error {
	delay := t.Delay()
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

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Limit:      t.limit,
		Remaining:  t.remaining,
		ResetAt:    t.resetAt,
		PauseUntil: t.pauseUntil,
	}
}

func parseIntHeader(headers http.Header, name string) (int, bool) {
	raw := headers.Get(name)
	if raw == "" {
		return 0, false
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}

	return v, true
}

// parseResetHeader reads X-RateLimit-Reset as epoch seconds, falling back to
// an HTTP-date.
func parseResetHeader(headers http.Header) (time.Time, bool) {
	raw := headers.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}, false
	}

	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(epoch, 0), true
	}

	if at, err := http.ParseTime(raw); err == nil {
		return at, true
	}

	return time.Time{}, false
}

// parseRetryAfter interprets a Retry-After value as either delay seconds or
// an HTTP-date.
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}

		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(raw); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}

		return d, true
	}

	return 0, false
}
