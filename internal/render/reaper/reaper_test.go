package reaper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func TestFiresAfterIdleTimeout(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	r := New(50*time.Millisecond, realClock{}, func() { fired.Add(1) }, nil)
	r.Touch()

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// One idle period, one teardown.
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestTouchKeepsReaperAtBay(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	r := New(80*time.Millisecond, realClock{}, func() { fired.Add(1) }, nil)
	r.Touch()

	// Touch at half the idle timeout; the reaper must never fire.
	for i := 0; i < 6; i++ {
		time.Sleep(40 * time.Millisecond)
		r.Touch()
	}
	require.Equal(t, int32(0), fired.Load())

	// Stop touching; now it fires.
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStopPreventsFiring(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	r := New(30*time.Millisecond, realClock{}, func() { fired.Add(1) }, nil)
	r.Touch()
	r.Stop()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())

	// Touch after Stop stays inert.
	r.Touch()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestZeroTimeoutDisables(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	r := New(0, realClock{}, func() { fired.Add(1) }, nil)
	r.Touch()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}
