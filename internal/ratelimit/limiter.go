// Package ratelimit provides the sliding-window limiters behind per-user throttling.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindow keeps the request timestamps of each key in process memory.
// State is lost on restart and is not shared between instances.
type SlidingWindow struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
	now     func() time.Time
	cleanup *time.Ticker
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	requests []time.Time
	lastSeen time.Time
}

// NewSlidingWindow allows maxRequests requests per key within any window-long span
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	l := &SlidingWindow{
		buckets: make(map[string]*bucket),
		max:     maxRequests,
		window:  window,
		now:     time.Now,
		cleanup: time.NewTicker(5 * time.Minute),
		stop:    make(chan struct{}),
	}
	go l.cleanupStale()
	return l
}

func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}

	cutoff := now.Add(-l.window)
	kept := b.requests[:0]
	for _, t := range b.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.requests = kept
	b.lastSeen = now

	if len(b.requests) >= l.max {
		return false, nil
	}
	b.requests = append(b.requests, now)
	return true, nil
}

func (l *SlidingWindow) cleanupStale() {
	for {
		select {
		case <-l.stop:
			return
		case <-l.cleanup.C:
			l.mu.Lock()
			stale := l.now().Add(-l.window)
			for key, b := range l.buckets {
				if b.lastSeen.Before(stale) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop ends the cleanup goroutine
func (l *SlidingWindow) Stop() {
	l.once.Do(func() {
		l.cleanup.Stop()
		close(l.stop)
	})
}
