package base

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "burst token %d", i)
	}
	assert.False(t, rl.Allow(), "bucket exhausted")

	allowed, blocked := rl.Stats()
	assert.EqualValues(t, 3, allowed)
	assert.EqualValues(t, 1, blocked)
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(20 * time.Millisecond) // 100/s refills one token in 10ms
	assert.True(t, rl.Allow())
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow())
	}
}

func TestRateLimiterSetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.SetRate(0)
	assert.True(t, rl.Allow(), "disabling the rate lifts the limit")
}
