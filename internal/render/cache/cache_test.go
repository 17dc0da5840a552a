package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(5*time.Minute, clk)

	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	c.Set("key", payload, "image/png")

	got, contentType, ok := c.Get("key")
	require.True(t, ok)
	require.Equal(t, payload, got)
	require.Equal(t, "image/png", contentType)
}

func TestGetEvictsExpiredEntry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(time.Minute, clk)
	c.Set("key", []byte("img"), "image/png")

	clk.Advance(time.Minute + time.Second)

	_, _, ok := c.Get("key")
	require.False(t, ok)
	// Eviction happened as a side effect, not just a stale read.
	require.Equal(t, 0, c.Len())
}

func TestSetOverwritesExistingEntry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(time.Minute, clk)
	c.Set("key", []byte("old"), "image/png")
	c.Set("key", []byte("new"), "image/jpeg")

	got, contentType, ok := c.Get("key")
	require.True(t, ok)
	require.Equal(t, []byte("new"), got)
	require.Equal(t, "image/jpeg", contentType)
	require.Equal(t, 1, c.Len())
}

func TestLenSweepsExpired(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(time.Minute, clk)
	c.Set("a", []byte("1"), "image/png")
	clk.Advance(30 * time.Second)
	c.Set("b", []byte("2"), "image/png")
	require.Equal(t, 2, c.Len())

	clk.Advance(45 * time.Second) // "a" is past TTL, "b" is not
	require.Equal(t, 1, c.Len())
}

func TestClearDropsEverything(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(time.Minute, clk)
	c.Set("a", []byte("1"), "image/png")
	c.Set("b", []byte("2"), "image/png")
	c.Clear()
	require.Equal(t, 0, c.Len())
	_, _, ok := c.Get("a")
	require.False(t, ok)
}

func TestStatsReportsTTL(t *testing.T) {
	t.Parallel()

	c := New(5*time.Minute, newFakeClock())
	stats := c.Stats()
	require.Equal(t, 0, stats.LiveEntryCount)
	require.Equal(t, 300.0, stats.TTLSeconds)
}
