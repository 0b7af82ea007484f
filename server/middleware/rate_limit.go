// Package middleware holds transport-level policies applied before a
// connection reaches the session manager.
package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneAfter drops limiters for clients that have been quiet this long.
const pruneAfter = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits connection attempts per client key (remote IP). It is
// the per-client companion to the session manager's global admission limiter.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

// NewRateLimiter creates a limiter admitting r attempts per second with the
// given burst, per client key.
func NewRateLimiter(r float64, burst int) *RateLimiter {
	if r <= 0 {
		r = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limit:   rate.Limit(r),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a connection attempt from the client is admitted.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cl, ok := rl.clients[key]
	if !ok {
		rl.prune(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.Allow()
}

// prune removes limiters idle past the cutoff. Called with the lock held.
func (rl *RateLimiter) prune(now time.Time) {
	for key, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > pruneAfter {
			delete(rl.clients, key)
		}
	}
}
