package policy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a sliding-window-equivalent cap per (subject, tool)
// token, implemented with golang.org/x/time/rate's token bucket: a bucket
// refilling at max-per-window/window with burst==max-per-window
// approximates a sliding window closely enough for per-call gating.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
	max      int
}

// NewRateLimiterFromCondition builds a limiter from a rate_limit rule's
// max_per_window/window_seconds fields. A missing window defaults to one
// minute.
func NewRateLimiterFromCondition(c Condition) *RateLimiter {
	window := time.Duration(c.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return NewRateLimiter(c.MaxPerWindow, window)
}

// NewRateLimiter builds a limiter allowing max events per window for each
// distinct key.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		window:   window,
		max:      max,
	}
}

func (l *RateLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(l.max) / l.window.Seconds())
		b = rate.NewLimiter(perSecond, l.max)
		l.limiters[key] = b
	}
	return b
}

// Allow reports whether key is still within its window, consuming one
// token if so.
func (l *RateLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// RetryAfter reports how long key must wait before its next token is
// available, for the ErrRateLimitExceeded.data.retryAfterSeconds field.
func (l *RateLimiter) RetryAfter(key string) time.Duration {
	b := l.bucket(key)
	r := b.ReserveN(time.Now(), 1)
	defer r.Cancel()
	if r.OK() {
		delay := r.DelayFrom(time.Now())
		if delay < 0 {
			return 0
		}
		return delay
	}
	return l.window
}
