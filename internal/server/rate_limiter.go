package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/echoes/internal/config"
)

// frameOther is the budget shared by frames that are not typing indicators.
const frameOther = "other"

// frameLimiter budgets inbound frames of one connection. Each inbound event
// has its own token bucket, so a burst of typing frames cannot swallow the
// stopTyping that clears the indicator on the receiver's side.
type frameLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// newFrameLimiter refills cfg.Burst tokens per cfg.RefillInterval.
func newFrameLimiter(cfg config.RateLimitConfig) *frameLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}

	return &frameLimiter{
		limit:   rate.Every(cfg.RefillInterval / time.Duration(cfg.Burst)),
		burst:   cfg.Burst,
		buckets: make(map[string]*rate.Limiter, 3),
	}
}

// budget maps an inbound event name onto its bucket key.
func budget(event string) string {
	switch event {
	case inboundTyping, inboundStopTyping:
		return event
	default:
		return frameOther
	}
}

// allow takes one token from the bucket of event and reports whether the
// frame may be processed.
func (l *frameLimiter) allow(event string) bool {
	key := budget(event)

	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}
