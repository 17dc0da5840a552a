// Package render defines the core types shared by the capture pipeline.
package render

import (
	"fmt"
	"net/url"
	"strings"
)

// Default viewport and encoding applied when a request leaves them unset.
const (
	DefaultWidth   = 1920
	DefaultHeight  = 1080
	DefaultQuality = 90

	ImageTypePNG  = "png"
	ImageTypeJPEG = "jpeg"
)

// CaptureRequest describes one screenshot request after query parsing.
type CaptureRequest struct {
	URL       string
	Width     int
	Height    int
	FullPage  bool
	ImageType string
	Quality   int
}

// Normalize fills unset fields with service defaults.
func (r CaptureRequest) Normalize() CaptureRequest {
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if r.ImageType == "" {
		r.ImageType = ImageTypePNG
	}
	if r.Quality <= 0 {
		r.Quality = DefaultQuality
	}
	return r
}

// Validate rejects malformed requests before any renderer work starts.
func (r CaptureRequest) Validate() error {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalidInput, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidInput)
	}
	switch r.ImageType {
	case ImageTypePNG, ImageTypeJPEG:
	default:
		return fmt.Errorf("%w: image type %q", ErrInvalidInput, r.ImageType)
	}
	if r.Quality < 1 || r.Quality > 100 {
		return fmt.Errorf("%w: quality %d outside 1-100", ErrInvalidInput, r.Quality)
	}
	return nil
}

// Host returns the lowercase hostname of the request URL, or "unknown".
func (r CaptureRequest) Host() string {
	parsed, err := url.Parse(r.URL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Hostname())
}

// ContentType maps the image type to its MIME type.
func (r CaptureRequest) ContentType() string {
	if r.ImageType == ImageTypeJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// CaptureResult carries the encoded image back to the boundary layer.
type CaptureResult struct {
	Bytes       []byte
	ContentType string
	FromCache   bool
}

// CaptureOptions is handed to a session when the page is ready.
type CaptureOptions struct {
	Width     int
	Height    int
	FullPage  bool
	ImageType string
	Quality   int
}

// Options derives the session capture options from the request.
func (r CaptureRequest) Options() CaptureOptions {
	return CaptureOptions{
		Width:     r.Width,
		Height:    r.Height,
		FullPage:  r.FullPage,
		ImageType: r.ImageType,
		Quality:   r.Quality,
	}
}

// PoolStats is the observability snapshot exposed by the instance pool.
type PoolStats struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	WaitingCount int `json:"waiting_count"`
	Capacity     int `json:"capacity"`
}

// QueueStats is the observability snapshot exposed by the admission queue.
type QueueStats struct {
	Running       int `json:"running"`
	QueuedCount   int `json:"queued_count"`
	MaxConcurrent int `json:"max_concurrent"`
}

// CacheStats is the observability snapshot exposed by the result cache.
type CacheStats struct {
	LiveEntryCount int     `json:"live_entry_count"`
	TTLSeconds     float64 `json:"ttl_seconds"`
}
