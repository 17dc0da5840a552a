// Package reaper tears down idle resources after a quiet period.
package reaper

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Reaper runs the registered teardown once no Touch has arrived for the
// idle timeout. Every request Touches it, pushing teardown out again.
type Reaper struct {
	idleTimeout time.Duration
	clock       render.Clock
	onIdle      func()
	logger      *zap.Logger

	mu           sync.Mutex
	timer        *time.Timer
	lastActivity time.Time
	stopped      bool
}

// New constructs a Reaper; onIdle runs at most once per idle period.
func New(idleTimeout time.Duration, clock render.Clock, onIdle func(), logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		idleTimeout: idleTimeout,
		clock:       clock,
		onIdle:      onIdle,
		logger:      logger,
	}
}

// Touch records activity and reschedules the reap timer.
func (r *Reaper) Touch() {
	if r.idleTimeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.lastActivity = r.clock.Now()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.idleTimeout, r.fire)
}

// fire re-checks the activity timestamp before tearing down; a Touch that
// raced the timer wins and reschedules.
func (r *Reaper) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	idle := r.clock.Now().Sub(r.lastActivity)
	if idle < r.idleTimeout {
		r.timer = time.AfterFunc(r.idleTimeout-idle, r.fire)
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	r.logger.Info("idle timeout reached, tearing down", zap.Duration("idle", idle))
	r.onIdle()
}

// Stop cancels any pending reap. Used during process shutdown; firing
// after Stop is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
