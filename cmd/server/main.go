package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vssyl/internal/config"
	"vssyl/internal/database"
	"vssyl/internal/handlers"
	"vssyl/internal/jobs"
	"vssyl/internal/logging"
	"vssyl/internal/middleware"
	"vssyl/internal/preflight"
	"vssyl/internal/security"
	"vssyl/internal/services"
	"vssyl/internal/telemetry"
	"vssyl/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Vssyl module context registry...")

	// Load configuration (.env is read by config.Load)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	shutdownTracing, err := telemetry.Setup(context.Background(), "vssyl-module-context", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Printf("⚠️  Failed to initialize tracing: %v (continuing without it)", err)
	}

	store, closeStore := openStore(cfg)
	defer closeStore()

	if results := preflight.NewChecker(store, cfg).RunAll(); preflight.HasFailures(results) {
		closeStore()
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	// Redis is optional: it enables the shared cache, cross-instance
	// invalidation and the registry sync lock
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Failed to connect to Redis: %v (running single-instance)", err)
			redisService = nil
		} else {
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️  REDIS_URL not set, running single-instance")
	}

	instanceID := uuid.New().String()
	var pubsubService *services.PubSubService
	contextCache := newContextCache(cfg, redisService, instanceID, &pubsubService)

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	validator, err := services.NewManifestValidator()
	if err != nil {
		log.Fatalf("❌ Failed to compile manifest schema: %v", err)
	}

	recorder := services.NewModuleMetricsRecorder(store)
	syncer := services.NewRegistrySyncService(store, store, contextCache, validator, metrics)
	matcher := services.NewContextMatcher(store, store)
	var endpointGuard func(string) error
	if cfg.BlockPrivateEndpoints {
		endpointGuard = security.ValidateEndpointURL
	}
	fetcher := services.NewContextFetcher(services.ContextFetcherConfig{
		Registry:      store,
		Cache:         contextCache,
		Recorder:      recorder,
		Metrics:       metrics,
		Limiter:       services.NewFetchRateLimiter(cfg.FetchRatePerSecond, cfg.FetchBurst),
		BaseURL:       cfg.ContextBaseURL,
		EndpointGuard: endpointGuard,
		Logger:        logging.NewComponentLogger("context_fetcher"),
	})
	installations := services.NewInstallationService(store, store, syncer, contextCache)
	log.Println("✅ Module context services initialized")

	// Seed the catalog from module files before the first sync
	var manifestWatcher *jobs.ManifestWatcher
	if cfg.ManifestDir != "" {
		manifestWatcher = jobs.NewManifestWatcher(cfg.ManifestDir, store, syncer)
		if err := manifestWatcher.ImportAndSync(context.Background()); err != nil {
			log.Printf("⚠️  Initial manifest import failed: %v", err)
		}
	} else {
		report := syncer.SyncAll(context.Background())
		log.Printf("🔄 Initial registry sync %s: success=%v entries added=%d updated=%d",
			report.RunID, report.Success, report.Added, report.Updated)
	}

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}

	var locker jobs.Locker
	if redisService != nil {
		locker = redisService
	}
	syncJob := jobs.NewRegistrySyncJob(syncer, locker)
	if err := jobScheduler.Register(syncJob, cfg.RegistrySyncCron); err != nil {
		log.Fatalf("❌ Failed to register registry sync job: %v", err)
	}
	if err := jobScheduler.Register(jobs.NewMetricsRetentionJob(store, cfg.MetricsRetentionDays), cfg.MetricsRetentionCron); err != nil {
		log.Fatalf("❌ Failed to register metrics retention job: %v", err)
	}
	jobScheduler.Start()

	watchCtx, stopWatching := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	if manifestWatcher != nil {
		go func() {
			defer close(watchDone)
			if err := manifestWatcher.Watch(watchCtx); err != nil {
				log.Printf("⚠️  Manifest watcher stopped: %v", err)
			}
		}()
	} else {
		close(watchDone)
	}

	// JWT authentication
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT authentication: %v", err)
		}
		log.Println("🔐 JWT authentication enabled")
	} else if cfg.IsProduction() {
		log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET is required in production. Generate with: openssl rand -hex 64")
	} else {
		log.Println("⚠️  JWT_SECRET not set, authentication disabled (development mode)")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Vssyl Module Context v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    4 * 1024 * 1024, // manifests are small; 4MB is generous
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("vssyl")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.Environment)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d, Match=%d, Fetch=%d per window",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.MatchMax, rateLimitConfig.FetchMax)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	var redisPinger handlers.Pinger
	if redisService != nil {
		redisPinger = redisService
	}
	app.Get("/health", handlers.NewHealthHandler(store, redisPinger).Handle)

	routes := &handlers.Routes{
		Context:      handlers.NewModuleContextHandler(matcher, fetcher),
		Installation: handlers.NewInstallationHandler(installations),
		Admin:        handlers.NewRegistryAdminHandler(syncer, store, store, validator, recorder, jobScheduler, syncJob),
		Auth:         middleware.LocalAuthMiddleware(jwtAuth, cfg.Environment),
		AdminOnly:    middleware.AdminMiddleware(cfg.SuperadminUserIDs),
		MatchLimit:   middleware.ContextMatchRateLimiter(rateLimitConfig),
		FetchLimit:   middleware.ContextFetchRateLimiter(rateLimitConfig),
	}
	routes.Register(app)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: registry sync (%s), metrics retention (%s)", cfg.RegistrySyncCron, cfg.MetricsRetentionCron)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop accepting requests first so no new fetches start
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Server stopped: %v", err)
	}

	stopWatching()
	<-watchDone

	if err := jobScheduler.Stop(); err != nil {
		log.Printf("⚠️ Error stopping job scheduler: %v", err)
	}

	if pubsubService != nil {
		if err := pubsubService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping PubSub: %v", err)
		}
	}

	// Flush pending metric writes before the store closes
	recorder.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("⚠️ Error flushing traces: %v", err)
	}

	log.Println("👋 Server stopped")
}

// openStore connects the registry backend: MongoDB when MONGODB_URI is set,
// otherwise the SQL database named by DATABASE_URL
func openStore(cfg *config.Config) (services.Store, func()) {
	if cfg.UsesMongo() {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}

		store := services.NewMongoRegistryStore(mongoDB)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
		}

		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoDB.Close(ctx)
		}
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	return services.NewSQLRegistryStore(db), func() { db.Close() }
}

// newContextCache picks the context cache for CONTEXT_CACHE_DRIVER. The
// memory cache is replicated over Redis pub/sub when Redis is available.
func newContextCache(cfg *config.Config, redisService *services.RedisService, instanceID string, pubsub **services.PubSubService) services.ContextCache {
	if cfg.ContextCacheDriver == "redis" {
		if redisService != nil {
			log.Println("🗄️  Context cache: Redis")
			return services.NewRedisContextCache(redisService, cfg.ContextCacheMaxAge)
		}
		log.Println("⚠️  CONTEXT_CACHE_DRIVER=redis but Redis is unavailable, falling back to memory")
	}

	local := services.NewMemoryContextCache(cfg.ContextCacheMaxAge)
	if redisService == nil {
		log.Println("🗄️  Context cache: in-memory")
		return local
	}

	ps := services.NewPubSubService(redisService, instanceID)
	replicated := services.NewReplicatedContextCache(local, ps)
	if err := ps.Start(); err != nil {
		log.Printf("⚠️  Failed to start cache invalidation pub/sub: %v (cache is local only)", err)
		ps.Stop()
		return local
	}

	*pubsub = ps
	log.Println("🗄️  Context cache: in-memory, invalidations replicated over Redis")
	return replicated
}
