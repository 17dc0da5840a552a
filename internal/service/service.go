// Package service orchestrates the capture pipeline: cache, admission,
// pool, readiness and the screenshot itself.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagelens/pagelens/internal/archive"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/render"
	"github.com/pagelens/pagelens/internal/render/admission"
	"github.com/pagelens/pagelens/internal/render/cache"
	"github.com/pagelens/pagelens/internal/render/govern"
	"github.com/pagelens/pagelens/internal/render/pool"
	"github.com/pagelens/pagelens/internal/render/readiness"
	"github.com/pagelens/pagelens/internal/render/reaper"
)

// Config controls orchestration behavior.
type Config struct {
	// NavTimeout bounds a single navigation.
	NavTimeout time.Duration
	// HostQPS throttles renders per target host; zero disables throttling.
	HostQPS float64
}

// Service runs capture requests end to end.
type Service struct {
	pool     *pool.Pool
	queue    *admission.Queue
	cache    *cache.Cache
	governor *govern.Governor
	detector *readiness.Detector
	reaper   *reaper.Reaper
	archive  *archive.Store
	cfg      Config
	logger   *zap.Logger

	hostLimiters sync.Map
}

// Stats aggregates the observability snapshots of the pipeline components.
type Stats struct {
	Pool  render.PoolStats  `json:"pool"`
	Queue render.QueueStats `json:"queue"`
	Cache render.CacheStats `json:"cache"`
}

// New constructs a Service. archiveStore may be nil to disable archiving.
func New(
	p *pool.Pool,
	queue *admission.Queue,
	resultCache *cache.Cache,
	governor *govern.Governor,
	detector *readiness.Detector,
	idleReaper *reaper.Reaper,
	archiveStore *archive.Store,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:     p,
		queue:    queue,
		cache:    resultCache,
		governor: governor,
		detector: detector,
		reaper:   idleReaper,
		archive:  archiveStore,
		cfg:      cfg,
		logger:   logger,
	}
}

// Capture renders one request. Cached results short-circuit the pipeline;
// misses go through admission, the pool and the readiness wait. A capture
// is never retried here — that decision belongs to the caller.
func (s *Service) Capture(ctx context.Context, req render.CaptureRequest) (render.CaptureResult, error) {
	defer s.reaper.Touch()
	defer s.publishGauges()

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return render.CaptureResult{}, err
	}

	if s.governor.ShouldCollect() {
		s.governor.Collect()
		metrics.ObserveMemoryCollect()
	}

	key := render.Fingerprint(req)
	if data, contentType, ok := s.cache.Get(key); ok {
		metrics.ObserveCacheLookup(true)
		return render.CaptureResult{Bytes: data, ContentType: contentType, FromCache: true}, nil
	}
	metrics.ObserveCacheLookup(false)

	if err := s.waitHostBudget(ctx, req); err != nil {
		return render.CaptureResult{}, err
	}

	start := time.Now()
	var result render.CaptureResult
	err := s.queue.Do(ctx, func(taskCtx context.Context) error {
		rendered, renderErr := s.renderOnce(taskCtx, req)
		if renderErr != nil {
			return renderErr
		}
		result = rendered
		return nil
	})
	if err != nil {
		metrics.ObserveRender(string(render.Classify(err)), time.Since(start))
		return render.CaptureResult{}, err
	}
	metrics.ObserveRender("ok", time.Since(start))

	s.cache.Set(key, result.Bytes, result.ContentType)
	s.archivePut(key, req, result.Bytes)
	return result, nil
}

// renderOnce drives a single instance through navigate, readiness and
// capture. Crashed instances are discarded, everything else is released.
func (s *Service) renderOnce(ctx context.Context, req render.CaptureRequest) (render.CaptureResult, error) {
	inst, err := s.pool.Acquire(ctx)
	if err != nil {
		return render.CaptureResult{}, err
	}

	crashed := false
	defer func() {
		if crashed {
			s.pool.Discard(ctx, inst)
		} else {
			s.pool.Release(ctx, inst)
		}
	}()

	session, err := inst.NewSession(ctx)
	if err != nil {
		crashed = true
		return render.CaptureResult{}, fmt.Errorf("%w: open session: %v", render.ErrRendererCrashed, err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, req.URL, s.cfg.NavTimeout); err != nil {
		crashed = errors.Is(err, render.ErrRendererCrashed)
		return render.CaptureResult{}, err
	}

	s.detector.Run(ctx, session, req.URL)

	data, err := session.Capture(ctx, req.Options())
	if err != nil {
		crashed = errors.Is(err, render.ErrRendererCrashed)
		return render.CaptureResult{}, err
	}
	return render.CaptureResult{Bytes: data, ContentType: req.ContentType()}, nil
}

func (s *Service) waitHostBudget(ctx context.Context, req render.CaptureRequest) error {
	if s.cfg.HostQPS <= 0 {
		return nil
	}
	val, _ := s.hostLimiters.LoadOrStore(req.Host(), rate.NewLimiter(rate.Limit(s.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate limit: %w", err)
	}
	return nil
}

func (s *Service) archivePut(key string, req render.CaptureRequest, data []byte) {
	if s.archive == nil {
		return
	}
	path, err := s.archive.Put(key, req.ImageType, data)
	if err != nil {
		s.logger.Warn("archive write failed", zap.String("url", req.URL), zap.Error(err))
		return
	}
	s.logger.Debug("capture archived", zap.String("path", path))
}

func (s *Service) publishGauges() {
	ps := s.pool.Stats()
	qs := s.queue.Stats()
	metrics.SetPoolStats(ps.Total, ps.Available, ps.WaitingCount)
	metrics.SetQueueStats(qs.Running, qs.QueuedCount)
}

// Stats reports the pipeline observability surface.
func (s *Service) Stats() Stats {
	return Stats{
		Pool:  s.pool.Stats(),
		Queue: s.queue.Stats(),
		Cache: s.cache.Stats(),
	}
}

// Shutdown tears the pipeline down for process exit.
func (s *Service) Shutdown(ctx context.Context) {
	s.reaper.Stop()
	s.queue.Close()
	s.pool.Shutdown(ctx)
	s.cache.Clear()
}
