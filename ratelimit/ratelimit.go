package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Per-provider request pacing. Tracks the time of the last upstream
// call and any quota state advertised by response headers. When the
// quota is exhausted, callers are expected to serve cached data
// rather than wait for the reset.

type Limiter struct {
	// Minimum delay between consecutive upstream calls.
	Delay time.Duration

	TimeNow func() time.Time

	mu           sync.Mutex
	lastCall     time.Time
	remaining    int
	hasRemaining bool
	resetAt      time.Time
}

func NewLimiter(delay time.Duration) *Limiter {
	return &Limiter{
		Delay:   delay,
		TimeNow: time.Now,
	}
}

// Wait blocks until the configured delay since the previous call has
// elapsed, then records the call. Returns early if ctx is cancelled.
// Other goroutines are not blocked while one waits.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.TimeNow()
	wait := l.Delay - now.Sub(l.lastCall)
	if wait <= 0 {
		l.lastCall = now
		l.mu.Unlock()
		return nil
	}
	// Claim the next slot before sleeping so concurrent callers
	// queue up behind it.
	l.lastCall = now.Add(wait)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// CanRequest reports whether the upstream quota allows another call.
// False while the advertised quota is exhausted and the reset time
// has not passed.
func (l *Limiter) CanRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasRemaining {
		return true
	}
	if l.remaining > 0 {
		return true
	}
	return !l.TimeNow().Before(l.resetAt)
}

// UpdateFromHeaders refreshes quota state from rate-limit response
// headers. Unknown or absent headers leave the state untouched.
func (l *Limiter) UpdateFromHeaders(headers http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := headers.Get("X-RateLimit-Remaining")
	if remaining == "" {
		remaining = headers.Get("X-Rate-Limit-Remaining")
	}
	if remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			l.remaining = n
			l.hasRemaining = true
		}
	}

	reset := headers.Get("X-RateLimit-Reset")
	if reset == "" {
		reset = headers.Get("X-Rate-Limit-Reset")
	}
	if reset != "" {
		if n, err := strconv.ParseInt(reset, 10, 64); err == nil {
			// Servers send either a unix epoch or seconds until
			// the reset. Anything below a year's worth of
			// seconds can't be an epoch.
			if n > 365*24*3600 {
				l.resetAt = time.Unix(n, 0)
			} else {
				l.resetAt = l.TimeNow().Add(time.Duration(n) * time.Second)
			}
		}
	}
}
