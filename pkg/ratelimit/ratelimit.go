// Package ratelimit guards the issuance endpoint with a per-credential
// token bucket.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry lazily creates and caches a token bucket per key (credential ID
// or peer address), each configured with the same rate and burst.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRegistry returns a Registry whose limiters allow rps requests per
// second with the given burst.
func NewRegistry(rps float64, burst int) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request for key may proceed now, consuming a
// token if so.
func (r *Registry) Allow(key string) bool {
	return r.limiterFor(key).Allow()
}

func (r *Registry) limiterFor(key string) *rate.Limiter {
	r.mu.RLock()
	lim, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return lim
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(r.rps, r.burst)
	r.limiters[key] = lim
	return lim
}

// SetLimit updates the rate and burst used for newly created limiters.
// Existing limiters for keys already seen keep their prior configuration.
func (r *Registry) SetLimit(rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rps = rate.Limit(rps)
	r.burst = burst
}

// Count returns the number of distinct keys currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
