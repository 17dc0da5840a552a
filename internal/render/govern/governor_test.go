package govern

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

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

func testGovernor(threshold uint64, clk *fakeClock) (*Governor, *int, *uint64) {
	g := New(threshold, 30*time.Second, clk, nil)
	collects := 0
	heap := uint64(0)
	g.heapAlloc = func() uint64 { return heap }
	g.collect = func() { collects++ }
	return g, &collects, &heap
}

func TestShouldCollectBelowThreshold(t *testing.T) {
	t.Parallel()

	g, _, heap := testGovernor(100, newFakeClock())
	*heap = 50
	require.False(t, g.ShouldCollect())
}

func TestShouldCollectAboveThreshold(t *testing.T) {
	t.Parallel()

	g, _, heap := testGovernor(100, newFakeClock())
	*heap = 150
	require.True(t, g.ShouldCollect())
}

func TestCollectDebounce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	g, collects, heap := testGovernor(100, clk)
	*heap = 150

	require.True(t, g.ShouldCollect())
	g.Collect()
	require.Equal(t, 1, *collects)

	// Still over threshold, but inside the debounce window.
	require.False(t, g.ShouldCollect())

	clk.Advance(29 * time.Second)
	require.False(t, g.ShouldCollect())

	clk.Advance(2 * time.Second)
	require.True(t, g.ShouldCollect())
}

func TestZeroThresholdDisables(t *testing.T) {
	t.Parallel()

	g, _, heap := testGovernor(0, newFakeClock())
	*heap = 1 << 40
	require.False(t, g.ShouldCollect())
}
