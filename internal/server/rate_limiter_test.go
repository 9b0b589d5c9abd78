package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "message %d within burst", i)
	}
	assert.False(t, rl.allow())
}

func TestRateLimiterTinyIntervalStaysFinite(t *testing.T) {
	rl := newRateLimiter(5, 3*time.Nanosecond)

	assert.NotEqual(t, rate.Inf, rl.limiter.Limit())
	assert.Equal(t, 5, rl.limiter.Burst())
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)

	assert.Equal(t, 1, rl.burst)
	assert.Equal(t, time.Second, rl.interval)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
