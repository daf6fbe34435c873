package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/volunteer/internal/cache"
	"example.com/volunteer/internal/config"
	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/outbox"
	"example.com/volunteer/internal/persistence/backend"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close()

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.CacheInvalidationURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.CacheInvalidationURL, cfg.CacheInvalidationToken, cfg.CacheTimeout)
	}
	service := domain.NewService(store.Store, invalidator)

	// The DLQ lives in postgres; other stores have nothing to retry.
	var dlqTick <-chan time.Time
	var manager *outbox.DLQManager
	if store.Pool != nil {
		manager = outbox.NewDLQManager(store.Pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
		dlqTicker := time.NewTicker(cfg.DLQPollInterval)
		defer dlqTicker.Stop()
		dlqTick = dlqTicker.C
		log.Printf("DLQ manager started (interval=%s, maxRetries=%d)", cfg.DLQPollInterval, cfg.DLQMaxRetries)
	}

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	defer reconcileTicker.Stop()
	log.Printf("counter reconciler started (interval=%s)", cfg.ReconcileInterval)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("maintenance metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case <-dlqTick:
			requeued, err := manager.RunOnce(ctx, cfg.DLQBatchSize)
			if err != nil {
				log.Printf("dlq manager error: %v", err)
			}
			if requeued > 0 {
				log.Printf("dlq manager requeued %d entries", requeued)
			}
		case <-reconcileTicker.C:
			report, err := service.ReconcileCounters(ctx)
			if err != nil {
				log.Printf("counter reconciliation error: %v", err)
			}
			if report.Repaired > 0 {
				log.Printf("counter reconciliation repaired %d of %d activities", report.Repaired, report.Checked)
			}
		case <-stop:
			log.Println("maintenance received shutdown signal")
			cancel()
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
