package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// Limiter gates accepted connections globally and per client address.
// A rate of 0 disables the corresponding limit.
type Limiter struct {
	mu        sync.Mutex
	global    *TokenBucket
	perClient map[string]*TokenBucket
	rate      int
	burst     int
}

// New creates a Limiter. globalRate and clientRate are connections per second.
func New(globalRate, clientRate, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		perClient: make(map[string]*TokenBucket),
		rate:      clientRate,
		burst:     burst,
	}
	if globalRate > 0 {
		l.global = NewTokenBucket(globalRate, burst)
	}
	return l
}

// Allow reports whether a new connection from client may start a session.
func (l *Limiter) Allow(client string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.perClient[client]
	if !ok {
		bucket = NewTokenBucket(l.rate, l.burst)
		l.perClient[client] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Prune drops per-client buckets unused for longer than idle and returns how many were removed.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for client, b := range l.perClient {
		if b.idleSince().Before(cutoff) {
			delete(l.perClient, client)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perClient)
}
