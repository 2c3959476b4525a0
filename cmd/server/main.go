// Command server is the SubMaker core's composition root: it wires
// configuration, the Storage Adapter, the Connection Pool, the Provider
// registry, the Fan-Out Orchestrator, the Translation Cache, and the
// Stream Activity Bus into one gin HTTP server and runs the Startup
// Validator + Warm-Up before accepting traffic. Grounded on the teacher's
// main.go wiring/shutdown shape, replacing its SQL database bootstrap
// (whose database package the teacher's own main.go fails to import) with
// this repository's Storage Adapter bootstrap.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"submaker/internal/cache"
	"submaker/internal/config"
	"submaker/internal/fanout"
	"submaker/internal/handlers"
	"submaker/internal/login"
	"submaker/internal/metrics"
	"submaker/internal/middleware"
	"submaker/internal/pool"
	"submaker/internal/providers"
	"submaker/internal/session"
	"submaker/internal/startup"
	"submaker/internal/storage"
	"submaker/internal/stream"
	"submaker/internal/translate"
)

// version is the build version surfaced on /session-stats; overridden at
// release time via -ldflags, matching the teacher's @version swagger
// annotation convention.
var version = "dev"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	isolationKey, err := storage.ResolveIsolationKey(storage.Config{
		BaseDir:           cfg.Storage.BaseDir,
		IsolationKey:      cfg.Storage.IsolationKey,
		EncryptionKeyHash: cfg.Storage.EncryptionKeyHash,
	})
	if err != nil {
		logger.Fatal("failed to resolve isolation key", zap.Error(err))
	}

	var store storage.Adapter
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		lazyClient := storage.LazyRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		client, err := lazyClient.Get()
		if err != nil {
			logger.Warn("redis unreachable, falling back to filesystem storage adapter", zap.Error(err))
			store = storage.NewFilesystemAdapter(cfg.Storage.BaseDir, isolationKey, cfg.Storage.FilesystemCapBytes, logger)
		} else {
			store = storage.NewRedisAdapter(client, isolationKey, cfg.Storage.RedisCapBytes, logger)
			redisClient = client
		}
	} else {
		store = storage.NewFilesystemAdapter(cfg.Storage.BaseDir, isolationKey, cfg.Storage.FilesystemCapBytes, logger)
	}

	// When running on the filesystem adapter, watch its base directory so
	// external edits to the isolation-id file or a cache directory (common
	// in local dev and in tests that poke at the on-disk layout directly)
	// get logged instead of silently producing stale reads.
	if fsAdapter, ok := store.(*storage.FilesystemAdapter); ok {
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		fsWatcher, err := fsAdapter.WatchFilesystem(watchCtx, func(path string) {
			logger.Info("storage: detected external filesystem change", zap.String("path", path))
		})
		if err != nil {
			logger.Warn("storage: failed to start filesystem watch", zap.Error(err))
		} else {
			defer fsWatcher.Stop()
		}
	}

	sessionStore, err := session.Open(cfg.Storage.BaseDir, cfg.Security.ConfigTokenSecret, cfg.Storage.PostgresDSN != "", cfg.Storage.PostgresDSN, logger)
	if err != nil {
		logger.Fatal("failed to open session store", zap.Error(err))
	}
	defer sessionStore.Close()

	connPool := pool.New(logger)
	loginCoord := login.New(redisClient, isolationKey, logger)

	registry := providers.BuildCatalog(connPool, loginCoord, logger)

	orchestrator := fanout.New(registry, connPool, logger, cfg.Providers.MaxConcurrent)

	bus := stream.New(logger, 10000)
	wsChannel := stream.NewWebSocketChannel(bus, logger)

	translator := translate.NewStubBackend()
	translationCache := cache.New(store, translator, bus, logger, cache.Config{
		AllowPermanentFallback:              cfg.Translation.AllowPermanentFallback,
		RequireConfigHashForPermanentWrites: cfg.Translation.RequireConfigHashForPermanentWrites,
		LivenessTimeout:                     time.Duration(cfg.Translation.LivenessTimeoutSeconds) * time.Second,
	})

	metricsRegistry := metrics.NewRegistry()

	validator := startup.New(logger)
	validator.Add("config", func(ctx context.Context) error { return startup.ConfigCheck(cfg).Run(ctx) })
	validator.Add("storage", func(ctx context.Context) error {
		return startup.StorageCheck(func(ctx context.Context) error {
			_, err := store.Size(ctx, storage.CacheSession)
			return err
		}).Run(ctx)
	})
	validator.Add("provider-warmup", func(ctx context.Context) error { return startup.WarmUpCheck(connPool).Run(ctx) })

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := validator.Validate(startCtx); err != nil {
		logger.Error("startup validation failed", zap.Error(err))
		os.Exit(2)
	}

	h := handlers.New(orchestrator, registry, connPool, translationCache, bus, sessionStore, cfg, logger, version)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestID())
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
		router.Use(limiter.Middleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})

	handlers.RegisterRoutes(router, h, wsChannel, metricsRegistry)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	bus.StartHeartbeat(runCtx)
	connPool.StartHealthLoop(runCtx)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("starting submaker core", zap.String("address", cfg.GetServerAddress()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	runCancel()
	bus.Stop()
	connPool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func configPath() string {
	if v := os.Getenv("SUBMAKER_CONFIG_PATH"); v != "" {
		return v
	}
	return "./config.json"
}
