// Command worker runs the offer scheduler (C5) standalone: a pool of
// goroutine workers pulling dispatch ids from the durable task queue,
// independent of the HTTP API process so the two scale separately.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-matching/internal/config"
	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/logging"
	"github.com/example/ride-matching/internal/payments"
	"github.com/example/ride-matching/internal/queue"
	"github.com/example/ride-matching/internal/registry"
	"github.com/example/ride-matching/internal/scheduler"
	"github.com/example/ride-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "offer-worker")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var dispatchStore storage.DispatchStore
	var rideStore storage.RideStore
	if cfg.PGDSN != "" {
		pds, err := storage.NewPostgresDispatchStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres dispatch store init failed", "error", err)
			os.Exit(1)
		}
		prs, err := storage.NewPostgresRideStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres ride store init failed", "error", err)
			os.Exit(1)
		}
		dispatchStore, rideStore = pds, prs
	} else {
		dispatchStore = storage.NewMemoryDispatchStore()
		rideStore = storage.NewMemoryRideStore()
	}

	var taskQueue queue.TaskQueue
	if redisClient != nil {
		taskQueue = queue.NewRedisQueue(redisClient, cfg.QueueName)
	} else {
		taskQueue = queue.NewMemoryQueue()
	}

	wsReg := dispatch.NewWSRegistry()
	var bus dispatch.Bus = wsReg
	if cfg.PushProviderURL != "" {
		bus = dispatch.NewFanoutBus(wsReg, dispatch.NewHTTPBus(cfg.PushProviderURL, ""))
	}

	var driverRegistry registry.Client = registry.NoopClient{}
	if cfg.DriverRegistryURL != "" {
		driverRegistry = registry.NewHTTPClient(cfg.DriverRegistryURL)
	}

	var fareAuthorizer payments.FareAuthorizer = payments.NoopAuthorizer{}
	if cfg.StripeAPIKey != "" {
		fareAuthorizer = payments.NewStripeClient()
	}

	sched := &scheduler.Scheduler{
		Dispatches:       dispatchStore,
		Rides:            rideStore,
		Queue:            taskQueue,
		Bus:              bus,
		Registry:         driverRegistry,
		Payments:         fareAuthorizer,
		Logger:           logger,
		DefaultFareMinor: cfg.DefaultFareMinor,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsAddr := os.Getenv("WORKER_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":2113"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("worker metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("worker metrics server stopped", "error", err)
		}
	}()

	const workerCount = 8
	done := make(chan struct{})
	for i := 0; i < workerCount; i++ {
		go func() {
			sched.Worker(ctx)
			done <- struct{}{}
		}()
	}

	logger.Info("offer scheduler workers started", "count", workerCount)
	for i := 0; i < workerCount; i++ {
		<-done
	}
	logger.Info("offer scheduler workers stopped")
}
