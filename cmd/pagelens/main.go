// Package main wires together the pagelens capture service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/api"
	"github.com/pagelens/pagelens/internal/archive"
	"github.com/pagelens/pagelens/internal/browser"
	"github.com/pagelens/pagelens/internal/clock/system"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/logging"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/render/admission"
	"github.com/pagelens/pagelens/internal/render/cache"
	"github.com/pagelens/pagelens/internal/render/govern"
	"github.com/pagelens/pagelens/internal/render/pool"
	"github.com/pagelens/pagelens/internal/render/readiness"
	"github.com/pagelens/pagelens/internal/render/reaper"
	"github.com/pagelens/pagelens/internal/service"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	launcher := browser.NewLauncher(browser.Config{
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: config.Seconds(cfg.Browser.NavTimeoutSeconds),
	}, logger.Named("browser"))

	instancePool := pool.New(launcher, pool.Config{
		Capacity:       cfg.Pool.Capacity,
		AcquireTimeout: config.Seconds(cfg.Pool.AcquireTimeoutSeconds),
		CreateTimeout:  config.Seconds(cfg.Pool.CreateTimeoutSeconds),
		CreateRetries:  cfg.Pool.CreateRetries,
		CreateBackoff:  config.Seconds(cfg.Pool.CreateBackoffSeconds),
		CloseTimeout:   config.Seconds(cfg.Pool.CloseTimeoutSeconds),
	}, logger.Named("pool"))
	instancePool.Initialize(ctx)

	queue := admission.New(admission.Config{
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		WaitTimeout:   config.Seconds(cfg.Admission.WaitTimeoutSeconds),
	}, logger.Named("admission"))

	resultCache := cache.New(config.Seconds(cfg.Cache.TTLSeconds), clock)

	governor := govern.New(
		uint64(cfg.Memory.ThresholdMB)*1024*1024,
		config.Seconds(cfg.Memory.DebounceSeconds),
		clock,
		logger.Named("govern"),
	)

	detector := readiness.New(readiness.Config{
		Budget:            config.Seconds(cfg.Render.BudgetSeconds),
		StabilityBudget:   config.Seconds(cfg.Render.StabilitySeconds),
		CriticalTimeout:   config.Seconds(cfg.Render.CriticalTimeoutSeconds),
		ConsentSelectors:  cfg.Readiness.ConsentSelectors,
		CriticalSelectors: cfg.Readiness.CriticalSelectors,
		Sites:             cfg.Readiness.Sites,
	}, logger.Named("readiness"))

	idleReaper := reaper.New(config.Seconds(cfg.Idle.TimeoutSeconds), clock, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		instancePool.Drain(drainCtx)
		resultCache.Clear()
	}, logger.Named("reaper"))
	idleReaper.Touch()

	var archiveStore *archive.Store
	if cfg.Archive.Enabled {
		archiveStore, err = archive.New(archive.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			logger.Warn("archive disabled", zap.Error(err))
		}
	}

	svc := service.New(
		instancePool,
		queue,
		resultCache,
		governor,
		detector,
		idleReaper,
		archiveStore,
		service.Config{
			NavTimeout: config.Seconds(cfg.Browser.NavTimeoutSeconds),
			HostQPS:    cfg.Render.HostQPS,
		},
		logger.Named("service"),
	)

	apiServer := api.NewServer(svc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	svc.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}
