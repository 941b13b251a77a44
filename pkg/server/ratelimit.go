package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Cleanup pass runs every this many Allow calls.
	rateLimitCleanupEvery = 1000
	// Clients idle longer than this are reaped.
	rateLimitIdleTimeout = 300 * time.Second
	// Upper bound on tracked clients.
	rateLimitMaxClients = 10000
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client address. Inactive clients are
// reaped every rateLimitCleanupEvery requests under the same mutex, keeping
// the map bounded.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	rps      rate.Limit
	burst    int
	requests uint64
}

// NewRateLimiter allows rps requests per second with the given burst per
// client. A zero rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether the client may proceed.
func (r *RateLimiter) Allow(client string) bool {
	if r.rps <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	if r.requests%rateLimitCleanupEvery == 0 {
		r.cleanupLocked()
	}

	b, ok := r.clients[client]
	if !ok {
		if len(r.clients) >= rateLimitMaxClients {
			r.cleanupLocked()
		}
		b = &clientBucket{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.clients[client] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (r *RateLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-rateLimitIdleTimeout)
	for addr, b := range r.clients {
		if b.lastSeen.Before(cutoff) {
			delete(r.clients, addr)
		}
	}
}

// TrackedClients returns the number of live buckets.
func (r *RateLimiter) TrackedClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
