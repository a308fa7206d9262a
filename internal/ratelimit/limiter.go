// Package ratelimit keeps one token bucket per API client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages rate limits for multiple clients
type Limiter struct {
	limiters map[string]*client
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
	idle     time.Duration
	now      func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing requestsPerHour per client with the
// given burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*client),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
		perHour:  requestsPerHour,
		idle:     time.Hour,
		now:      time.Now,
	}
}

// PerHour returns the configured hourly allowance
func (l *Limiter) PerHour() int { return l.perHour }

func (l *Limiter) get(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, exists := l.limiters[clientID]
	if !exists {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[clientID] = c
	}
	c.lastSeen = l.now()
	return c.limiter
}

// Allow reports whether a request from clientID may proceed, and how many
// whole tokens remain afterwards
func (l *Limiter) Allow(clientID string) (bool, int) {
	lim := l.get(clientID)
	ok := lim.AllowN(l.now(), 1)
	remaining := int(lim.TokensAt(l.now()))
	if remaining < 0 {
		remaining = 0
	}
	return ok, remaining
}

// RetryAfter estimates how long until clientID gets its next token
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	lim := l.get(clientID)
	missing := 1 - lim.TokensAt(l.now())
	if missing <= 0 || l.rate <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.rate) * float64(time.Second))
}

// Prune drops clients idle for longer than an hour and returns how many were removed
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed := 0
	for id, c := range l.limiters {
		if c.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}
