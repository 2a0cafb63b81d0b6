package gateway

import (
	"sync"
	"time"
)

// Rate limiter defaults applied to every connection.
const (
	defaultRequestsPerMinute = 120
	defaultMaxInFlight       = 16
)

// rateLimiter bounds what a single connection may ask of the engine: a
// sliding one-minute request window plus a cap on concurrently executing
// requests. Shell commands are expensive; a runaway caller must not be able
// to fork-bomb the host through the gateway.
type rateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxInFlight       int
	window            []time.Time
	inFlight          int
}

func newRateLimiter(requestsPerMinute, maxInFlight int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &rateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxInFlight:       maxInFlight,
	}
}

// admit reports whether another request may start now. On refusal the second
// return value is a caller-facing reason.
func (r *rateLimiter) admit() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxInFlight {
		return false, "too many concurrent requests"
	}

	r.prune(time.Now())
	if len(r.window) >= r.requestsPerMinute {
		return false, "rate limit exceeded"
	}

	return true, ""
}

// begin records a request start.
func (r *rateLimiter) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = append(r.window, time.Now())
	r.inFlight++
}

// end records a request completion.
func (r *rateLimiter) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// prune drops window entries older than one minute. Caller holds r.mu.
func (r *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := r.window[:0]
	for _, t := range r.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.window = kept
}
