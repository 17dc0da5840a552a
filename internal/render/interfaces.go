package render

import (
	"context"
	"time"
)

// Launcher starts new browser instances.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
}

// Instance is one running headless browser managed by the pool.
type Instance interface {
	// Healthy reports whether the instance can still serve sessions.
	Healthy(ctx context.Context) bool
	// NewSession opens a fresh browsing context for exactly one capture.
	NewSession(ctx context.Context) (Session, error)
	// Close tears the instance down; best effort, bounded by ctx.
	Close(ctx context.Context) error
}

// Session is one browsing context opened within an instance.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs a JavaScript expression and unmarshals the result into out.
	Evaluate(ctx context.Context, expr string, out any) error
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
