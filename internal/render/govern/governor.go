// Package govern watches process heap usage and debounces GC hints.
package govern

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Governor triggers a best-effort memory collection when heap usage
// crosses a threshold, at most once per debounce window.
type Governor struct {
	threshold uint64
	debounce  time.Duration
	clock     render.Clock
	logger    *zap.Logger

	// heapAlloc and collect are swappable for tests.
	heapAlloc func() uint64
	collect   func()

	mu            sync.Mutex
	lastCollected time.Time
}

// New constructs a Governor. thresholdBytes of zero disables it.
func New(thresholdBytes uint64, debounce time.Duration, clock render.Clock, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &Governor{
		threshold: thresholdBytes,
		debounce:  debounce,
		clock:     clock,
		logger:    logger,
		heapAlloc: readHeapAlloc,
		collect:   debug.FreeOSMemory,
	}
}

// ShouldCollect reports whether a collection hint is due: heap usage above
// the threshold and enough quiet time since the last trigger.
func (g *Governor) ShouldCollect() bool {
	if g.threshold == 0 {
		return false
	}
	heap := g.heapAlloc()
	if heap <= g.threshold {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCollected.IsZero() || g.clock.Now().Sub(g.lastCollected) >= g.debounce
}

// Collect issues the collection hint and records the trigger time.
func (g *Governor) Collect() {
	g.mu.Lock()
	g.lastCollected = g.clock.Now()
	g.mu.Unlock()
	heapBefore := g.heapAlloc()
	g.collect()
	g.logger.Info("memory collection triggered",
		zap.Uint64("heap_before_bytes", heapBefore),
		zap.Uint64("heap_after_bytes", g.heapAlloc()),
	)
}

func readHeapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}
