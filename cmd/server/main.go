package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"automation-core/internal/ai"
	"automation-core/internal/config"
	"automation-core/internal/engine"
	"automation-core/internal/instrument"
	"automation-core/internal/metadata"
	"automation-core/internal/metrics"
	"automation-core/internal/storage"
	"automation-core/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to load .env: %v", err)
	}

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	configureLogging(cfg.LogLevel)
	log.WithFields(log.Fields{
		"port":        cfg.Server.Port,
		"driver":      cfg.Database.Driver,
		"persistence": cfg.Persistence.Driver,
	}).Info("Config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}

	// 4. Key-value persistence for endpoints, providers and log snapshots
	kv, closeKV, err := openKV(cfg, db)
	if err != nil {
		log.Fatalf("Failed to open %s persistence: %v", cfg.Persistence.Driver, err)
	}
	defer closeKV()
	repo := metadata.NewRepository(kv, store.NewSealer(cfg.SecretKey))

	// 5. Instrumentation
	var buffer *instrument.EventBuffer
	var cleanup *instrument.CleanupScheduler
	if cfg.Instrumentation.Enabled {
		buffer = instrument.NewEventBuffer(db, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer buffer.Stop()
		cleanup = instrument.NewCleanupScheduler(db, cfg.Instrumentation.RetentionDays, time.Hour)
		cleanup.Start()
		defer cleanup.Stop()
	}

	// 6. Notification dispatcher
	hub := engine.NewStreamHub(engine.StreamOptions{})
	defer hub.Close()
	sink := engine.NewKVLogSink(kv)
	dispatcher := engine.NewDispatcher(metadata.NewRegistry(),
		engine.WithLogSink(sink),
		engine.WithStreamHub(hub),
		engine.WithUserAgent(cfg.Dispatcher.UserAgent),
		engine.WithRetryBase(time.Duration(cfg.Dispatcher.RetryBaseMs)*time.Millisecond),
		engine.WithLogCapacity(cfg.Dispatcher.LogCapacity),
		engine.WithSnapshotSize(cfg.Dispatcher.SnapshotSize),
		engine.WithDefaultTimeout(time.Duration(cfg.Dispatcher.DefaultTimeoutMs)*time.Millisecond),
	)
	endpoints, err := repo.LoadEndpoints(ctx)
	if err != nil {
		log.Warnf("Failed to load webhooks: %v", err)
	}
	dispatcher.SetEndpoints(endpoints)
	if entries, err := sink.LoadLogs(ctx); err != nil {
		log.Warnf("Failed to load webhook logs: %v", err)
	} else {
		dispatcher.RestoreLogs(entries)
	}
	log.WithField("webhooks", len(endpoints)).Info("Webhook registry loaded")

	// 7. Generation gateway
	gateway := ai.NewGateway(repo,
		ai.WithTestMaxTokens(cfg.Gateway.TestMaxTokens),
		ai.WithRequestTimeout(time.Duration(cfg.Gateway.RequestTimeoutMs)*time.Millisecond),
	)
	if err := gateway.Load(ctx); err != nil {
		log.Warnf("Failed to load AI providers: %v", err)
	}
	healthChecker := ai.NewHealthChecker(gateway, cfg.Gateway.HealthCheckCron, 5*time.Minute)
	if err := healthChecker.Start(); err != nil {
		log.Fatalf("Failed to start health checks: %v", err)
	}
	defer healthChecker.Stop()

	// 8. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
	}))
	app.Use(instrument.Middleware(cfg.Instrumentation, buffer))

	// 9. Health check and metrics
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get("/metrics", metrics.Handler())
	}

	// 10. Routes
	engine.RegisterWebhookRoutes(app, engine.NewWebhookHandler(dispatcher, repo, hub))
	ai.RegisterRoutes(app, ai.NewHandler(gateway))
	eventHandler := instrument.NewEventHandler(db)
	app.Get("/api/_events", eventHandler.List)
	app.Get("/api/_events/trace/:traceId", eventHandler.GetTrace)

	// 11. Serve until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Infof("Starting server on %s", addr)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Server stopped: %v", err)
	}
}

func configureLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// openKV selects the SQL _kv table, Redis or local files for key-value
// persistence.
func openKV(cfg *config.Config, db *store.Store) (store.KV, func(), error) {
	switch cfg.Persistence.Driver {
	case "file":
		lkv, err := storage.NewLocalKV(cfg.Persistence.Path, cfg.Persistence.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return lkv, func() {}, nil
	case "redis":
		rkv, err := store.NewRedisKV(cfg.Persistence)
		if err != nil {
			return nil, nil, err
		}
		return rkv, func() { _ = rkv.Close() }, nil
	default:
		return store.NewSQLKV(db), func() {}, nil
	}
}
