package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewSlidingWindow(2, time.Minute)
	defer l.Stop()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "user:1")
		assert.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "user:1")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "user:2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "user:1")
	assert.True(t, ok, "window slides")
}

func TestSlidingWindowRejectedRequestsDoNotCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewSlidingWindow(1, 10*time.Second)
	defer l.Stop()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "ip")
	assert.True(t, ok)
	now = now.Add(5 * time.Second)
	ok, _ = l.Allow(ctx, "ip")
	assert.False(t, ok)
	now = now.Add(6 * time.Second)
	ok, _ = l.Allow(ctx, "ip")
	assert.True(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewSlidingWindow(1, time.Second)
	l.Stop()
	l.Stop()
}

func TestRedisKey(t *testing.T) {
	l := NewRedisSlidingWindow(nil, "shopnest:ratelimit", 10, time.Minute)
	assert.Equal(t, "shopnest:ratelimit:user:7", l.Key("user:7"))
}
