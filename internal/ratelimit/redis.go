package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, then records the request only if room is left.
// KEYS[1] window key; ARGV: now ms, window ms, max, member.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1] - ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisSlidingWindow keeps each key's window in a redis sorted set so every
// instance sees the same counts.
type RedisSlidingWindow struct {
	client redis.Scripter
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

func NewRedisSlidingWindow(client redis.Scripter, prefix string, maxRequests int, window time.Duration) *RedisSlidingWindow {
	return &RedisSlidingWindow{client: client, prefix: prefix, max: maxRequests, window: window, now: time.Now}
}

func (l *RedisSlidingWindow) Key(key string) string {
	return l.prefix + ":" + key
}

func (l *RedisSlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	allowed, err := slidingWindowScript.Run(ctx, l.client, []string{l.Key(key)},
		now, l.window.Milliseconds(), l.max, fmt.Sprintf("%d-%s", now, uuid.NewString())).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return allowed == 1, nil
}
