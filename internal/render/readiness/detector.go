// Package readiness decides when a loaded page is stable enough to capture.
//
// The detector is a staged wait run once per session before the screenshot.
// Every stage gets its own slice of one overall budget and every stage
// failure is non-fatal: it is logged and the machine advances. Total
// failure only degrades output quality, never the capture itself.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/render"
)

// Config tunes the staged wait.
type Config struct {
	// Budget is the overall wait budget the percentage stages carve from.
	Budget time.Duration
	// MinTextLength is the floor for the minimal-content stage.
	MinTextLength int
	// CriticalTextLength is the larger floor for the critical-content stage.
	CriticalTextLength int
	// StabilityInterval is the content-size sampling interval, capped at 1s.
	StabilityInterval time.Duration
	// StabilityBudget bounds the content-stability stage.
	StabilityBudget time.Duration
	// CriticalTimeout bounds the critical-content stage.
	CriticalTimeout time.Duration
	// ConsentSelectors are probed once, in order, for an accept affordance.
	ConsentSelectors []string
	// CriticalSelectors satisfy the critical-content stage when rendered
	// with nonzero height.
	CriticalSelectors []string
	// ScriptSettle is the fixed trailing grace delay.
	ScriptSettle time.Duration
	// ScrollPause is the pause between lazy-load scroll steps.
	ScrollPause time.Duration
	// Sites holds per-site overrides keyed by URL substring.
	Sites []SiteOverride
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = 40 * time.Second
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 40
	}
	if c.CriticalTextLength <= 0 {
		c.CriticalTextLength = 400
	}
	if c.StabilityInterval <= 0 || c.StabilityInterval > time.Second {
		c.StabilityInterval = time.Second
	}
	if c.StabilityBudget <= 0 {
		c.StabilityBudget = 15 * time.Second
	}
	if c.CriticalTimeout <= 0 {
		c.CriticalTimeout = 20 * time.Second
	}
	if c.ScriptSettle <= 0 {
		c.ScriptSettle = 2 * time.Second
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 300 * time.Millisecond
	}
	return c
}

// SiteOverride adjusts the detector for URLs matching Pattern. Overrides
// are a configuration table, not code branches, so site tuning ships
// without detector changes.
type SiteOverride struct {
	Pattern           string        `mapstructure:"pattern"`
	ConsentSelectors  []string      `mapstructure:"consent_selectors"`
	CriticalSelectors []string      `mapstructure:"critical_selectors"`
	CriticalTimeout   time.Duration `mapstructure:"critical_timeout"`
	ExtraSettle       time.Duration `mapstructure:"extra_settle"`
}

// Detector runs the staged wait against a session.
type Detector struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Detector.
func New(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg.withDefaults(), logger: logger}
}

// Run walks the stages in order. It always terminates within the combined
// stage budgets plus the fixed grace delays and never returns an error.
func (d *Detector) Run(ctx context.Context, session render.Session, pageURL string) {
	cfg := d.cfg.forSite(pageURL)
	log := d.logger.With(zap.String("url", pageURL))

	stages := []struct {
		name string
		run  func() error
	}{
		{"dom_complete", func() error {
			return d.pollUntil(ctx, session, slice(cfg.Budget, 30),
				`document.readyState === 'complete'`)
		}},
		{"minimal_content", func() error {
			return d.pollUntil(ctx, session, slice(cfg.Budget, 20),
				fmt.Sprintf(`(document.body && document.body.innerText.trim().length > %d)`, cfg.MinTextLength))
		}},
		{"consent_dismissal", func() error {
			return d.dismissConsent(ctx, session, cfg.ConsentSelectors)
		}},
		{"network_settle", func() error {
			return d.waitNetworkSettle(ctx, session, slice(cfg.Budget, 20))
		}},
		{"content_stability", func() error {
			return d.waitContentStable(ctx, session, cfg)
		}},
		{"lazy_load", func() error {
			return d.triggerLazyLoad(ctx, session, cfg.ScrollPause)
		}},
		{"media_settle", func() error {
			return d.waitMediaSettle(ctx, session, slice(cfg.Budget, 15))
		}},
		{"script_settle", func() error {
			return sleep(ctx, cfg.ScriptSettle)
		}},
		{"critical_content", func() error {
			return d.waitCriticalContent(ctx, session, cfg)
		}},
	}

	for _, stage := range stages {
		start := time.Now()
		if err := stage.run(); err != nil {
			log.Debug("readiness stage gave up",
				zap.String("stage", stage.name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			continue
		}
		log.Debug("readiness stage done",
			zap.String("stage", stage.name),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	if extra := cfg.extraSettle; extra > 0 {
		_ = sleep(ctx, extra)
	}
}

// siteConfig is Config plus the resolved per-site extra settle delay.
type siteConfig struct {
	Config
	extraSettle time.Duration
}

func (c Config) forSite(pageURL string) siteConfig {
	resolved := siteConfig{Config: c}
	lowered := strings.ToLower(pageURL)
	for _, site := range c.Sites {
		if site.Pattern == "" || !strings.Contains(lowered, strings.ToLower(site.Pattern)) {
			continue
		}
		if len(site.ConsentSelectors) > 0 {
			resolved.ConsentSelectors = site.ConsentSelectors
		}
		if len(site.CriticalSelectors) > 0 {
			resolved.CriticalSelectors = site.CriticalSelectors
		}
		if site.CriticalTimeout > 0 {
			resolved.CriticalTimeout = site.CriticalTimeout
		}
		if site.ExtraSettle > 0 {
			resolved.extraSettle = site.ExtraSettle
		}
		break
	}
	return resolved
}

// slice carves a percentage out of the overall budget.
func slice(budget time.Duration, percent int) time.Duration {
	return budget * time.Duration(percent) / 100
}

// pollUntil evaluates expr every 250ms until it is true or the stage
// timeout fires.
func (d *Detector) pollUntil(ctx context.Context, session render.Session, timeout time.Duration, expr string) error {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if err := session.Evaluate(ctx, expr, &ok); err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %s", timeout)
		}
		if err := sleep(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
}

// dismissConsent clicks the first visible accept affordance. Single pass,
// best effort, never blocks the pipeline.
func (d *Detector) dismissConsent(ctx context.Context, session render.Session, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}
	quoted := make([]string, len(selectors))
	for i, sel := range selectors {
		quoted[i] = fmt.Sprintf("%q", sel)
	}
	script := fmt.Sprintf(`(() => {
		const selectors = [%s];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el && el.offsetParent !== null) { el.click(); return true; }
		}
		return false;
	})()`, strings.Join(quoted, ","))

	var clicked bool
	if err := session.Evaluate(ctx, script, &clicked); err != nil {
		return fmt.Errorf("consent probe: %w", err)
	}
	if clicked {
		// Give the banner a beat to animate out.
		return sleep(ctx, 500*time.Millisecond)
	}
	return nil
}

// waitNetworkSettle waits for the resource entry count to hold still for a
// short quiet window. Sites with background polling are expected to fail
// this stage; that is fine.
func (d *Detector) waitNetworkSettle(ctx context.Context, session render.Session, timeout time.Duration) error {
	const quiet = 2
	interval := timeout / 4
	if interval <= 0 || interval > 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	var last, streak int
	for {
		var count int
		if err := session.Evaluate(ctx, `performance.getEntriesByType('resource').length`, &count); err == nil {
			if count == last {
				streak++
				if streak >= quiet {
					return nil
				}
			} else {
				last = count
				streak = 0
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("network still active after %s", timeout)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// waitContentStable samples the serialized DOM length until three
// consecutive identical non-zero samples, bounded by the stability budget.
func (d *Detector) waitContentStable(ctx context.Context, session render.Session, cfg siteConfig) error {
	const needed = 3
	maxSamples := int(cfg.StabilityBudget / cfg.StabilityInterval)
	var last, streak int
	for i := 0; i < maxSamples; i++ {
		var size int
		if err := session.Evaluate(ctx, `document.documentElement.outerHTML.length`, &size); err == nil {
			if size > 0 && size == last {
				streak++
				if streak >= needed-1 {
					return nil
				}
			} else {
				streak = 0
			}
			last = size
		}
		if err := sleep(ctx, cfg.StabilityInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("content never stabilized within %s", cfg.StabilityBudget)
}

// triggerLazyLoad scrolls the viewport down in steps and back to the top
// to force lazy-mounted content. Fixed duration, not detection-driven.
func (d *Detector) triggerLazyLoad(ctx context.Context, session render.Session, pause time.Duration) error {
	const steps = 5
	for i := 1; i <= steps; i++ {
		script := fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight * %d / %d)`, i, steps)
		if err := session.Evaluate(ctx, script, nil); err != nil {
			return fmt.Errorf("scroll step %d: %w", i, err)
		}
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}
	if err := session.Evaluate(ctx, `window.scrollTo(0, 0)`, nil); err != nil {
		return fmt.Errorf("scroll home: %w", err)
	}
	return sleep(ctx, pause)
}

// waitMediaSettle waits for images to report nonzero dimensions and for
// iframes to attach documents. Partial success is accepted.
func (d *Detector) waitMediaSettle(ctx context.Context, session render.Session, timeout time.Duration) error {
	half := timeout / 2
	imgErr := d.pollUntil(ctx, session, half,
		`Array.from(document.images).every(img => img.complete && img.naturalWidth > 0)`)
	frameErr := d.pollUntil(ctx, session, half,
		`Array.from(document.querySelectorAll('iframe')).every(f => { try { return f.contentDocument !== null; } catch (e) { return true; } })`)
	if imgErr != nil {
		return fmt.Errorf("images unsettled: %w", imgErr)
	}
	if frameErr != nil {
		return fmt.Errorf("iframes unsettled: %w", frameErr)
	}
	return nil
}

// waitCriticalContent waits until a critical selector renders with nonzero
// height or the page text clears the larger floor.
func (d *Detector) waitCriticalContent(ctx context.Context, session render.Session, cfg siteConfig) error {
	quoted := make([]string, len(cfg.CriticalSelectors))
	for i, sel := range cfg.CriticalSelectors {
		quoted[i] = fmt.Sprintf("%q", sel)
	}
	expr := fmt.Sprintf(`(() => {
		const selectors = [%s];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el && el.getBoundingClientRect().height > 0) { return true; }
		}
		return document.body && document.body.innerText.trim().length > %d;
	})()`, strings.Join(quoted, ","), cfg.CriticalTextLength)
	return d.pollUntil(ctx, session, cfg.CriticalTimeout, expr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	}
}
