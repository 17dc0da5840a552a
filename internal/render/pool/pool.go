// Package pool manages the bounded set of long-lived browser instances.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Config controls pool sizing and timing.
type Config struct {
	Capacity       int
	AcquireTimeout time.Duration
	CreateTimeout  time.Duration
	CreateRetries  int
	CreateBackoff  time.Duration
	CloseTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 90 * time.Second
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 60 * time.Second
	}
	if c.CreateRetries < 0 {
		c.CreateRetries = 0
	}
	if c.CreateBackoff <= 0 {
		c.CreateBackoff = 2 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	return c
}

// waiter is one parked Acquire call. The pool fulfills it with an instance
// or fails it; exactly one of the two, exactly once.
type waiter struct {
	ready chan render.Instance
	fail  chan error
}

func newWaiter() *waiter {
	return &waiter{
		ready: make(chan render.Instance, 1),
		fail:  make(chan error, 1),
	}
}

// Pool owns every browser instance in the process. Instances are either in
// the available set or checked out by exactly one caller; total never
// exceeds capacity.
type Pool struct {
	launcher render.Launcher
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	available []render.Instance
	total     int
	waiters   []*waiter
	down      bool
}

// New constructs a Pool; call Initialize to warm it up.
func New(launcher render.Launcher, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		launcher: launcher,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Initialize eagerly creates up to Capacity instances. Partial failure
// leaves a degraded but usable pool.
func (p *Pool) Initialize(ctx context.Context) {
	for i := 0; i < p.cfg.Capacity; i++ {
		inst, err := p.createInstance(ctx)
		if err != nil {
			p.logger.Warn("pool warmup degraded",
				zap.Int("created", i),
				zap.Int("capacity", p.cfg.Capacity),
				zap.Error(err),
			)
			return
		}
		p.mu.Lock()
		if p.down {
			p.mu.Unlock()
			p.closeInstance(inst)
			return
		}
		p.available = append(p.available, inst)
		p.total++
		p.mu.Unlock()
	}
	p.logger.Info("pool warmed up", zap.Int("capacity", p.cfg.Capacity))
}

// Acquire returns a healthy instance. It prefers the available set, then
// lazy creation under capacity, then parks the caller FIFO until a Release
// hands an instance over or the acquire timeout fires.
func (p *Pool) Acquire(ctx context.Context) (render.Instance, error) {
	for {
		p.mu.Lock()
		if p.down {
			p.mu.Unlock()
			return nil, render.ErrShuttingDown
		}

		if len(p.available) > 0 {
			inst := p.available[0]
			p.available = p.available[1:]
			p.mu.Unlock()
			if p.healthy(ctx, inst) {
				return inst, nil
			}
			p.evict(ctx, inst)
			continue
		}

		if p.total < p.cfg.Capacity {
			// Reserve the slot before the (slow) launch so concurrent
			// acquires cannot overshoot capacity.
			p.total++
			p.mu.Unlock()
			inst, err := p.createInstance(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			return inst, nil
		}

		w := newWaiter()
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()
		return p.wait(ctx, w)
	}
}

func (p *Pool) wait(ctx context.Context, w *waiter) (render.Instance, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case inst := <-w.ready:
		return inst, nil
	case err := <-w.fail:
		return nil, err
	case <-timer.C:
		if p.abandon(w) {
			return nil, fmt.Errorf("%w: no instance within %s", render.ErrPoolExhausted, p.cfg.AcquireTimeout)
		}
		// Release or Shutdown dequeued us first; the settlement is in flight.
		return p.settle(w)
	case <-ctx.Done():
		if p.abandon(w) {
			return nil, fmt.Errorf("acquire canceled: %w", ctx.Err())
		}
		return p.settle(w)
	}
}

func (p *Pool) settle(w *waiter) (render.Instance, error) {
	select {
	case inst := <-w.ready:
		return inst, nil
	case err := <-w.fail:
		return nil, err
	}
}

// abandon removes w from the waiter list. It reports false when another
// goroutine already dequeued w, in which case a hand-off is imminent.
func (p *Pool) abandon(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns a checked-out instance. Healthy instances go to the
// oldest waiter directly, skipping the available set, so sustained load
// cannot starve parked acquirers.
func (p *Pool) Release(ctx context.Context, inst render.Instance) {
	if inst == nil {
		return
	}

	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		p.closeInstance(inst)
		return
	}
	p.mu.Unlock()

	if !p.healthy(ctx, inst) {
		p.logger.Warn("unhealthy instance evicted on release")
		p.evict(ctx, inst)
		return
	}

	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ready <- inst
		return
	}
	p.available = append(p.available, inst)
	p.mu.Unlock()
}

// Discard evicts an instance that crashed mid-session. The next Acquire
// creates a replacement lazily.
func (p *Pool) Discard(ctx context.Context, inst render.Instance) {
	if inst == nil {
		return
	}
	p.logger.Warn("instance discarded after session failure")
	p.evict(ctx, inst)
}

// Drain closes every idle instance while leaving the pool usable; the
// next Acquire creates instances lazily again. Checked-out instances are
// untouched. Called by the idle reaper.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	instances := p.available
	p.available = nil
	p.total -= len(instances)
	p.mu.Unlock()

	for _, inst := range instances {
		p.closeInstance(inst)
	}
	if len(instances) > 0 {
		p.logger.Info("idle instances drained", zap.Int("closed", len(instances)))
	}
}

// Shutdown rejects all pending and future acquisitions and closes every
// instance with a bounded per-close timeout.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	p.down = true
	waiters := p.waiters
	p.waiters = nil
	instances := p.available
	p.available = nil
	p.total = 0
	p.mu.Unlock()

	for _, w := range waiters {
		w.fail <- render.ErrShuttingDown
	}
	for _, inst := range instances {
		p.closeInstance(inst)
	}
	p.logger.Info("pool shut down", zap.Int("closed", len(instances)))
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() render.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return render.PoolStats{
		Total:        p.total,
		Available:    len(p.available),
		WaitingCount: len(p.waiters),
		Capacity:     p.cfg.Capacity,
	}
}

// createInstance launches a browser with bounded retries and exponential
// backoff. An explicit attempt loop, never recursion.
func (p *Pool) createInstance(ctx context.Context) (render.Instance, error) {
	var lastErr error
	backoff := p.cfg.CreateBackoff
	for attempt := 0; attempt <= p.cfg.CreateRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("instance creation retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", render.ErrInstanceCreation, ctx.Err())
			}
			backoff *= 2
		}

		launchCtx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
		inst, err := p.launcher.Launch(launchCtx)
		cancel()
		if err == nil {
			return inst, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", render.ErrInstanceCreation, lastErr)
}

// healthy runs the instance health check; any panic counts as unhealthy.
func (p *Pool) healthy(ctx context.Context, inst render.Instance) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("health check panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	return inst.Healthy(ctx)
}

// evict removes an instance from the total set and closes it.
func (p *Pool) evict(ctx context.Context, inst render.Instance) {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
	p.closeInstance(inst)
}

// closeInstance is best effort and bounded; slow closes are abandoned.
func (p *Pool) closeInstance(inst render.Instance) {
	closeCtx, cancel := context.WithTimeout(context.Background(), p.cfg.CloseTimeout)
	defer cancel()
	if err := inst.Close(closeCtx); err != nil {
		p.logger.Warn("instance close failed", zap.Error(err))
	}
}
