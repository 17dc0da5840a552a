package render

import (
	"context"
	"errors"
)

// Error taxonomy for the capture pipeline. The boundary layer maps these to
// response codes; the pipeline never retries a capture on its own.
var (
	// ErrInvalidInput marks malformed URLs or parameters. Never retryable.
	ErrInvalidInput = errors.New("invalid capture request")
	// ErrPoolExhausted means no instance became available within the deadline.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrInstanceCreation is terminal after creation retries run out.
	ErrInstanceCreation = errors.New("browser instance creation failed")
	// ErrRenderTimeout means navigation or capture exceeded its budget.
	ErrRenderTimeout = errors.New("render timed out")
	// ErrRendererCrashed marks a protocol-level failure mid-session.
	ErrRendererCrashed = errors.New("renderer crashed")
	// ErrShuttingDown is returned while the pool or queue is tearing down.
	ErrShuttingDown = errors.New("service shutting down")
)

// ErrorClass buckets pipeline errors for the boundary layer.
type ErrorClass string

const (
	ClassInvalid     ErrorClass = "invalid_input"
	ClassTransient   ErrorClass = "transient"
	ClassUnavailable ErrorClass = "unavailable"
	ClassInternal    ErrorClass = "internal"
)

// Classify maps a pipeline error to its class.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ClassInvalid
	case errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrRenderTimeout),
		errors.Is(err, ErrRendererCrashed),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, ErrShuttingDown):
		return ClassUnavailable
	default:
		return ClassInternal
	}
}
