package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	c := New[uint](time.Minute)
	c.Set("host:shop.example.com", 3)

	v, ok := c.Get("host:shop.example.com")
	assert.True(t, ok)
	assert.Equal(t, uint(3), v)
}

func TestExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string](time.Second)
	c.now = func() time.Time { return now }
	c.Set("k", "v")

	now = now.Add(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestDisabledWhenTTLZero(t *testing.T) {
	c := New[int](0)
	c.Set("k", 1)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidateValue(t *testing.T) {
	c := New[uint](time.Minute)
	c.Set("host:a", 1)
	c.Set("sub:a", 1)
	c.Set("sub:b", 2)

	c.InvalidateValue(func(v uint) bool { return v == 1 })
	assert.Equal(t, 1, c.Len())
}
