package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"log/slog"

	"github.com/example/ride-matching/internal/config"
	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/eta"
	"github.com/example/ride-matching/internal/geo"
	httpapi "github.com/example/ride-matching/internal/http"
	"github.com/example/ride-matching/internal/idempotency"
	"github.com/example/ride-matching/internal/ingest"
	"github.com/example/ride-matching/internal/logging"
	"github.com/example/ride-matching/internal/matcher"
	"github.com/example/ride-matching/internal/payments"
	"github.com/example/ride-matching/internal/queue"
	"github.com/example/ride-matching/internal/registry"
	"github.com/example/ride-matching/internal/scheduler"
	"github.com/example/ride-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "dispatch-api")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var geoIndex geo.Geo
	if redisClient != nil {
		geoIndex = geo.NewRedisGeo(redisClient, cfg.RedisGeoKey)
	} else {
		geoIndex = geo.NewIndex()
	}

	var etaClient eta.Client
	if cfg.OSRMBaseURL != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMBaseURL)
	}
	var calibrator eta.Calibrator
	if cfg.ETACalibratorURL != "" {
		calibrator = eta.NewHTTPCalibrator(cfg.ETACalibratorURL)
	}
	oracle := &eta.Oracle{
		Client:          etaClient,
		Calibrator:      calibrator,
		Cache:           eta.NewCache(30 * time.Second),
		DefaultSpeedMps: cfg.DefaultSpeedMps,
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
	var idemCache idempotency.Cache
	if redisClient != nil {
		taskQueue = queue.NewRedisQueue(redisClient, cfg.QueueName)
		idemCache = idempotency.NewRedisCache(redisClient, cfg.IdempotencyPrefix)
	} else {
		taskQueue = queue.NewMemoryQueue()
		idemCache = idempotency.NewMemoryCache()
	}

	wsReg := dispatch.NewWSRegistry()
	var bus dispatch.Bus = wsReg
	if cfg.PushProviderURL != "" {
		httpBus := dispatch.NewHTTPBus(cfg.PushProviderURL, "")
		bus = dispatch.NewFanoutBus(wsReg, httpBus)
	}

	var driverRegistry registry.Client = registry.NoopClient{}
	if cfg.DriverRegistryURL != "" {
		driverRegistry = registry.NewHTTPClient(cfg.DriverRegistryURL)
	}

	var fareAuthorizer payments.FareAuthorizer = payments.NoopAuthorizer{}
	if cfg.StripeAPIKey != "" {
		fareAuthorizer = payments.NewStripeClient()
	}

	var kafkaProducer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaProducer.Close()
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	builder := &matcher.Builder{Geo: geoIndex, Oracle: oracle}

	srv := httpapi.NewServer(logger)
	srv.Geo = geoIndex
	srv.Builder = builder
	srv.Dispatches = dispatchStore
	srv.Rides = rideStore
	srv.Queue = taskQueue
	srv.Bus = bus
	srv.WSReg = wsReg
	srv.Idem = idemCache
	srv.Kafka = kafkaProducer
	srv.AckSecondsDefault = cfg.AckSecondsDefault
	srv.AckSecondsMin = cfg.AckSecondsMin
	srv.AckSecondsMax = cfg.AckSecondsMax
	srv.DefaultFareMinor = cfg.DefaultFareMinor
	srv.IdempotencyTTL = cfg.IdempotencyTTL

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

	workerCount := 4
	for i := 0; i < workerCount; i++ {
		go sched.Worker(ctx)
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("ride-matching http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_schema.sql")
}
