package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/api"
	"github.com/shehryarbajwa/browserfarm/internal/archive"
	"github.com/shehryarbajwa/browserfarm/internal/config"
	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/driver/driverset"
	"github.com/shehryarbajwa/browserfarm/internal/farm"
	"github.com/shehryarbajwa/browserfarm/internal/logging"
	"github.com/shehryarbajwa/browserfarm/internal/proxy"
	"github.com/shehryarbajwa/browserfarm/internal/ratelimit"
	"github.com/shehryarbajwa/browserfarm/internal/run"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}

	farmClient, err := farm.New(cfg.Farm())
	if err != nil {
		log.WithError(err).Fatal("failed to create farm client")
	}
	log.WithField("farm", farmClient.BaseURL()).Info("farm client initialized")

	drivers := func(name string) (driver.Driver, error) {
		return driverset.New(name, driverset.Options{
			ActionTimeout:       cfg.ActionTimeout,
			PlaywrightDriverDir: cfg.PlaywrightDriverDir,
		})
	}

	mgrCfg := run.ManagerConfig{
		MaxConcurrent: cfg.MaxConcurrentRuns,
		MaxPerClient:  cfg.MaxRunsPerClient,
		RunTimeout:    cfg.RunTimeout,
		DefaultDriver: cfg.Driver,
		DebugHost:     cfg.DebugHost,
	}
	var store *archive.Store
	if cfg.ReportDir != "" {
		store, err = archive.NewStore(cfg.ReportDir)
		if err != nil {
			log.WithError(err).Fatal("failed to open run archive")
		}
		mgrCfg.Archive = store
		log.WithField("dir", cfg.ReportDir).Info("run archive enabled")
	}

	runMgr := run.NewManager(farmClient, drivers, mgrCfg, log)
	log.WithFields(logrus.Fields{
		"max_concurrent": cfg.MaxConcurrentRuns,
		"per_client":     cfg.MaxRunsPerClient,
		"driver":         cfg.Driver,
	}).Info("run manager initialized")

	proxyServer := proxy.NewServer(runMgr, log)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go housekeeping(pruneCtx, rateLimiter, store, cfg.ReportRetention, log)

	runHandler := api.NewHandler(runMgr, cfg.ActionTimeout, log)
	envHandler := api.NewEnvironmentHandler(farmClient, log)
	router := runHandler.SetupRoutes(envHandler, proxyServer, rateLimiter)

	// No write timeout: the debug proxy holds websocket connections open.
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	// Active runs are cancelled and still stop their environments.
	if err := runMgr.Shutdown(ctx); err != nil {
		log.WithError(err).Error("runs did not finish teardown in time")
	}

	log.Info("server stopped")
}

// housekeeping drops idle rate limiters and expired run archives
func housekeeping(ctx context.Context, l *ratelimit.Limiter, store *archive.Store, retention time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				log.WithField("clients", n).Debug("pruned idle rate limiters")
			}
			if store == nil {
				continue
			}
			n, err := store.Prune(time.Now().Add(-retention))
			if err != nil {
				log.WithError(err).Warn("failed to prune run archive")
			} else if n > 0 {
				log.WithField("runs", n).Info("pruned archived runs")
			}
		}
	}
}
