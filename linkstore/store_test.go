package linkstore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pending struct {
	Nation     string
	WAMember   bool
	Population int64
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	want := pending{Nation: "testlandia", WAMember: true, Population: 5_000_000}

	s.Set("state-1", want, clk.Now().Add(5*time.Minute))

	got, ok := s.Get("state-1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Get does not consume.
	_, ok = s.Get("state-1")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_SetOverwrites(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	s.Set("state", pending{Nation: "a"}, clk.Now().Add(time.Minute))
	s.Set("state", pending{Nation: "b"}, clk.Now().Add(time.Minute))

	got, ok := s.Get("state")
	require.True(t, ok)
	assert.Equal(t, "b", got.Nation)
	assert.Equal(t, 1, s.Len())
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	s.Set("state", pending{Nation: "a"}, clk.Now().Add(time.Minute))

	s.Delete("state")
	s.Delete("state")
	s.Delete("never-set")

	_, ok := s.Get("state")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_TakeConsumesOnce(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	s.Set("state", pending{Nation: "a"}, clk.Now().Add(time.Minute))

	got, ok := s.Take("state")
	require.True(t, ok)
	assert.Equal(t, "a", got.Nation)

	_, ok = s.Take("state")
	assert.False(t, ok)
	_, ok = s.Get("state")
	assert.False(t, ok)
}

func TestStore_ExpiredEntriesReadAsAbsent(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	s.Set("state", pending{Nation: "a"}, clk.Now().Add(5*time.Minute))

	clk.Advance(5 * time.Minute)

	_, ok := s.Get("state")
	assert.False(t, ok, "entry at its expiry instant is expired")
	_, ok = s.Take("state")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "Take removes even an expired entry")
}

func TestStore_Prune(t *testing.T) {
	clk := newClock()
	s := New[pending](WithClock(clk.Now))
	s.Set("short", pending{}, clk.Now().Add(time.Minute))
	s.Set("long", pending{}, clk.Now().Add(10*time.Minute))

	assert.Equal(t, 0, s.Prune())
	assert.Equal(t, 2, s.Len())

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 1, s.Prune())
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("long")
	assert.True(t, ok)

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 1, s.Prune())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentTakeSucceedsOnce(t *testing.T) {
	s := New[pending]()
	s.Set("state", pending{Nation: "a"}, time.Now().Add(time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take("state"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_ConcurrentMixedAccess(t *testing.T) {
	s := New[int]()
	exp := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%8))
			s.Set(key, i, exp)
			s.Get(key)
			s.Prune()
			s.Len()
			if i%3 == 0 {
				s.Delete(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 8)
}
