// Package browser drives headless Chrome via chromedp. It implements the
// render.Launcher, render.Instance and render.Session capabilities used by
// the capture pipeline.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Config controls launched browser processes.
type Config struct {
	UserAgent  string
	NavTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	return c
}

// Launcher starts headless Chrome processes.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher constructs a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg.withDefaults(), logger: logger}
}

// Launch starts one browser process and warms it up. Each instance gets
// its own exec allocator so a crashed browser never takes siblings down.
func (l *Launcher) Launch(ctx context.Context) (render.Instance, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	warmup, cancelWarmup := context.WithCancel(browserCtx)
	defer cancelWarmup()
	stop := forwardCancel(ctx, cancelWarmup)
	defer stop()
	if err := chromedp.Run(warmup); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	l.logger.Debug("browser instance launched")
	return &Instance{
		cfg:           l.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// Instance is one running Chrome process.
type Instance struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// Healthy reports whether the browser still answers the protocol. A live
// context alone is too weak a signal for a browser mid-crash, so this
// runs a trivial evaluate as a probe.
func (i *Instance) Healthy(ctx context.Context) bool {
	if i.browserCtx.Err() != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(i.browserCtx, 2*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var one int
	if err := chromedp.Run(probeCtx, chromedp.Evaluate("1", &one)); err != nil {
		return false
	}
	return one == 1
}

// NewSession opens a fresh tab for exactly one capture.
func (i *Instance) NewSession(_ context.Context) (render.Session, error) {
	if i.browserCtx.Err() != nil {
		return nil, fmt.Errorf("%w: browser context gone", render.ErrRendererCrashed)
	}
	tabCtx, tabCancel := chromedp.NewContext(i.browserCtx)
	return &Session{
		cfg:       i.cfg,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
	}, nil
}

// Close tears the process down, bounded by ctx; a slow exit is abandoned.
func (i *Instance) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.browserCancel()
		i.allocCancel()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser close abandoned: %w", ctx.Err())
	}
}

// Session is one tab within an instance.
type Session struct {
	cfg       Config
	tabCtx    context.Context
	tabCancel context.CancelFunc
}

// Navigate loads the URL and waits for the body to exist.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.NavTimeout
	}
	navCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, tasks); err != nil {
		if navCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: navigate %s: %v", render.ErrRenderTimeout, url, err)
		}
		return fmt.Errorf("%w: navigate %s: %v", render.ErrRendererCrashed, url, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression in the tab.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	evalCtx, cancel := context.WithTimeout(s.tabCtx, 5*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Capture sets the viewport and takes the screenshot.
func (s *Session) Capture(ctx context.Context, opts render.CaptureOptions) ([]byte, error) {
	capCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	format := page.CaptureScreenshotFormatPng
	quality := int64(0)
	if opts.ImageType == render.ImageTypeJPEG {
		format = page.CaptureScreenshotFormatJpeg
		quality = int64(opts.Quality)
	}

	var buf []byte
	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(opts.Width), int64(opts.Height), 1, false),
		chromedp.ActionFunc(func(taskCtx context.Context) error {
			shot := page.CaptureScreenshot().
				WithFormat(format).
				WithCaptureBeyondViewport(opts.FullPage)
			if quality > 0 {
				shot = shot.WithQuality(quality)
			}
			data, err := shot.Do(taskCtx)
			if err != nil {
				return fmt.Errorf("capture screenshot: %w", err)
			}
			buf = data
			return nil
		}),
	}
	if err := chromedp.Run(capCtx, tasks); err != nil {
		if capCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: capture: %v", render.ErrRenderTimeout, err)
		}
		return nil, fmt.Errorf("%w: capture: %v", render.ErrRendererCrashed, err)
	}
	return buf, nil
}

// Close cancels the tab context.
func (s *Session) Close() {
	s.tabCancel()
}

// forwardCancel propagates cancellation from parent onto cancel until the
// returned stop func runs.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
