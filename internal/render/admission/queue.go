// Package admission bounds how many capture workflows run concurrently.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Config controls the admission queue.
type Config struct {
	MaxConcurrent int
	WaitTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Minute
	}
	return c
}

// ticket is one parked submission. It settles exactly once: nil when
// admitted, an error when the queue rejects it.
type ticket struct {
	settle chan error
}

func newTicket() *ticket {
	return &ticket{settle: make(chan error, 1)}
}

// Queue admits tasks strictly FIFO while keeping the number of running
// tasks at or below MaxConcurrent. Tasks run in the submitting goroutine;
// a saturated queue parks the submitter until capacity frees up.
type Queue struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running int
	pending []*ticket
	closed  bool
}

// New constructs a Queue.
func New(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{cfg: cfg.withDefaults(), logger: logger}
}

// Do runs fn once the caller is admitted. A task failure only affects its
// own caller; the slot is freed either way and handed to the next in line.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := q.admit(ctx); err != nil {
		return err
	}
	defer q.done()
	return fn(ctx)
}

func (q *Queue) admit(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return render.ErrShuttingDown
	}
	if q.running < q.cfg.MaxConcurrent && len(q.pending) == 0 {
		q.running++
		q.mu.Unlock()
		return nil
	}
	t := newTicket()
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	timer := time.NewTimer(q.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case err := <-t.settle:
		return err
	case <-timer.C:
		if q.withdraw(t) {
			return fmt.Errorf("%w: admission wait exceeded %s", render.ErrPoolExhausted, q.cfg.WaitTimeout)
		}
		return <-t.settle
	case <-ctx.Done():
		if q.withdraw(t) {
			return fmt.Errorf("admission canceled: %w", ctx.Err())
		}
		return <-t.settle
	}
}

// withdraw removes a parked ticket. False means the ticket was already
// dequeued and its settlement is in flight; the caller must consume it.
func (q *Queue) withdraw(t *ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.pending {
		if cand == t {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if len(q.pending) > 0 && q.running < q.cfg.MaxConcurrent {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.running++
		t.settle <- nil
	}
}

// Close rejects all parked and future submissions. Tasks already running
// finish normally.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range pending {
		t.settle <- render.ErrShuttingDown
	}
	q.logger.Info("admission queue closed", zap.Int("rejected", len(pending)))
}

// Stats reports the current admission occupancy.
func (q *Queue) Stats() render.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return render.QueueStats{
		Running:       q.running,
		QueuedCount:   len(q.pending),
		MaxConcurrent: q.cfg.MaxConcurrent,
	}
}
