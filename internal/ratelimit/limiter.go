// Package ratelimit provides per-client token bucket limiting. Buckets live
// in a bounded LRU so an open surface cannot grow client state without
// limit; evicting a cold client merely refills its bucket on return.
package ratelimit

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter manages rate limits for multiple clients.
type Limiter struct {
	buckets *lru.Cache[string, *rate.Limiter]
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
}

// NewLimiter creates a limiter allowing requestsPerMinute sustained requests
// per client with the given burst, tracking at most maxClients clients.
func NewLimiter(requestsPerMinute, burst, maxClients int) (*Limiter, error) {
	buckets, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		buckets: buckets,
		rate:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
	}, nil
}

// Allow reports whether a request from the given client may proceed.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(client)
	if !ok {
		bucket = rate.NewLimiter(l.rate, l.burst)
		l.buckets.Add(client, bucket)
	}
	l.mu.Unlock()

	return bucket.Allow()
}
