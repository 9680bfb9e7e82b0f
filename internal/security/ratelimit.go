package security

import (
	"fmt"
	"sync"
	"time"
)

const slidingWindow = 60 * time.Second

// RateLimiter enforces, per userId, a sliding 60-second request-count
// window and an independent concurrent-upload counter. A plain token
// bucket (golang.org/x/time/rate) does not model a sliding window
// precisely at the boundary, so this keeps an explicit ring of request
// timestamps per user and ages it on every check.
type RateLimiter struct {
	maxRequestsPerMinute int
	maxConcurrentUploads int

	mu          sync.Mutex
	requests    map[string][]time.Time
	concurrency map[string]int
}

// NewRateLimiter creates a RateLimiter. A zero value for either limit
// disables that check (treated as unbounded).
func NewRateLimiter(maxRequestsPerMinute, maxConcurrentUploads int) *RateLimiter {
	return &RateLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		maxConcurrentUploads: maxConcurrentUploads,
		requests:             make(map[string][]time.Time),
		concurrency:          make(map[string]int),
	}
}

// CheckRateLimit admits a request for userId if it is within both the
// sliding 60s request-count window and the concurrent-uploads cap. On
// admission it records the request and increments the concurrency counter.
func (r *RateLimiter) CheckRateLimit(userID string) error {
	return r.checkRateLimitAt(userID, time.Now())
}

func (r *RateLimiter) checkRateLimitAt(userID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := agedWindow(r.requests[userID], now)

	if r.maxRequestsPerMinute > 0 && len(window) >= r.maxRequestsPerMinute {
		r.requests[userID] = window
		return fmt.Errorf("security: rate limit exceeded for user %s", userID)
	}

	if r.maxConcurrentUploads > 0 && r.concurrency[userID] >= r.maxConcurrentUploads {
		r.requests[userID] = window
		return fmt.Errorf("security: concurrent upload limit exceeded for user %s", userID)
	}

	r.requests[userID] = append(window, now)
	r.concurrency[userID]++

	return nil
}

// ReleaseRateLimit decrements userId's concurrency counter only; the
// request-count window ages out on its own.
func (r *RateLimiter) ReleaseRateLimit(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrency[userID] > 0 {
		r.concurrency[userID]--
	}
}

// agedWindow returns the subset of timestamps still within slidingWindow
// of now.
func agedWindow(timestamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-slidingWindow)

	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	return kept
}
