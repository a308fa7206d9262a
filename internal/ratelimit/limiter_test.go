package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func frozen(l *Limiter, t time.Time) *time.Time {
	now := t
	l.now = func() time.Time { return now }
	return &now
}

func TestBurstThenDeny(t *testing.T) {
	l := NewLimiter(3600, 3)
	frozen(l, time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		ok, remaining := l.Allow("a")
		assert.True(t, ok)
		assert.Equal(t, 2-i, remaining)
	}
	ok, remaining := l.Allow("a")
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, time.Second, l.RetryAfter("a"))

	// Other clients have their own bucket.
	ok, _ = l.Allow("b")
	assert.True(t, ok)
}

func TestRefill(t *testing.T) {
	l := NewLimiter(3600, 1)
	now := frozen(l, time.Unix(1000, 0))

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	*now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 3600, l.PerHour())
}

func TestPrune(t *testing.T) {
	l := NewLimiter(100, 10)
	now := frozen(l, time.Unix(1000, 0))

	l.Allow("old")
	*now = now.Add(2 * time.Hour)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Prune())
	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "fresh")
}
