package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/bloodbank-api/internal/app"
	"github.com/jwalitptl/bloodbank-api/internal/config"
	"github.com/jwalitptl/bloodbank-api/internal/handler"
	cleanup "github.com/jwalitptl/bloodbank-api/internal/worker"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/worker"
)

// setupHealthCheck serves liveness, readiness and metrics for the worker on
// the health port.
func setupHealthCheck(h *handler.Handler, port int, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.GET("/health/live", h.LivenessCheck)
	engine.GET("/health/ready", h.ReadinessCheck)
	engine.GET("/metrics", h.MetricsHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Pretty:     cfg.Log.Pretty,
	}).WithFields(map[string]interface{}{"service": "worker"})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg, log, prometheus.DefaultRegisterer)
	initCancel()
	if err != nil {
		log.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	processor, err := worker.NewOutboxProcessor(
		a.Stores.Outbox,
		a.Broker,
		cfg.Outbox.ToWorkerConfig(),
		log,
		a.Metrics,
	)
	if err != nil {
		log.Fatal(err, "Invalid outbox configuration")
	}

	sweeper, err := worker.NewExpirySweeper(a.Ledger, cfg.Sweep.Interval, log)
	if err != nil {
		log.Fatal(err, "Invalid sweep configuration")
	}

	outboxCleanup, err := cleanup.NewOutboxCleanupWorker(a.Stores.Outbox, cfg.Outbox.RetentionDays, cfg.Outbox.CleanupInterval, log)
	if err != nil {
		log.Fatal(err, "Invalid outbox cleanup configuration")
	}

	checks := make(map[string]handler.Checker)
	for name, c := range a.Checks() {
		checks[name] = c
	}
	healthSrv := setupHealthCheck(handler.NewHandler(prometheus.DefaultGatherer, checks), cfg.Server.HealthPort, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		outboxCleanup.Start(ctx)
	}()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	log.Info("Worker stopped")
}
