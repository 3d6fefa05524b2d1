package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache[int], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newWithClock[int](ttl, clock.Now)
	t.Cleanup(c.Stop)
	return c, clock
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.removeExpired()
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoad(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "bad", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("bad")
	assert.False(t, ok, "errors are not cached")
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	c.Set("call:1:list", 1)
	c.Set("call:1:rec", 2)
	c.Set("call:2:list", 3)

	c.InvalidatePrefix("call:1:")

	_, ok := c.Get("call:1:list")
	assert.False(t, ok)
	_, ok = c.Get("call:2:list")
	assert.True(t, ok)

	c.Delete("call:2:list")
	assert.Equal(t, 0, c.Len())
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New[string](time.Millisecond)
	c.Stop()
	c.Stop()
}
