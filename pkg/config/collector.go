package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/Egham-7/tokentra/internal/api"
	"github.com/Egham-7/tokentra/internal/config"
	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/aggregator"
	"github.com/Egham-7/tokentra/internal/services/apikey"
	"github.com/Egham-7/tokentra/internal/services/attribution"
	"github.com/Egham-7/tokentra/internal/services/budget"
	"github.com/Egham-7/tokentra/internal/services/database"
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/routing"
	"github.com/Egham-7/tokentra/internal/services/scheduler"
	"github.com/Egham-7/tokentra/internal/services/transport"
	"github.com/Egham-7/tokentra/internal/services/usage"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/redis/go-redis/v9"
)

// Collector is a Tokentra collector server instance.
type Collector struct {
	config           *config.Config
	app              *fiber.App
	redis            *redis.Client
	db               *database.DB
	builder          *Builder
	enabledEndpoints map[string]bool

	services        *collectorServices
	cancelScheduler context.CancelFunc
}

type collectorServices struct {
	apiKeys       *apikey.Service
	resolver      *attribution.Resolver
	usage         *usage.Service
	budgets       *budget.Service
	processor     *aggregator.Processor
	configStore   *routing.ConfigStore
	limiter       apikey.Limiter
	memoryLimiter *apikey.MemoryLimiter
	worker        *usage.Worker
	scheduler     *scheduler.CleanupScheduler
}

type collectorInfrastructure struct {
	redis *redis.Client
	db    *database.DB
}

// NewCollector creates a new Collector with the given configuration.
// The cfg parameter is required and must not be nil.
func NewCollector(cfg *config.Config) *Collector {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() or config builder to create config")
	}

	return &Collector{
		config:           cfg,
		enabledEndpoints: make(map[string]bool),
	}
}

// NewCollectorWithBuilder creates a Collector from a configuration builder,
// which also carries middlewares and endpoint selection.
func NewCollectorWithBuilder(b *Builder) *Collector {
	return &Collector{
		config:           b.Build(),
		builder:          b,
		enabledEndpoints: b.GetEnabledEndpoints(),
	}
}

// App returns the fiber app. It is nil until Setup has run.
func (c *Collector) App() *fiber.App {
	return c.app
}

// Setup validates the configuration, connects to the datastores, runs
// migrations, starts background workers and registers every route.
func (c *Collector) Setup() error {
	if err := c.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(c.config)

	c.app = createFiberApp(c.config)

	infra, err := initializeInfrastructure(c.config)
	if err != nil {
		return err
	}
	c.redis = infra.redis
	c.db = infra.db

	services, err := initializeServices(c.db, c.redis, c.config)
	if err != nil {
		_ = c.Close()
		return err
	}
	c.services = services

	schedCtx, cancel := context.WithCancel(context.Background())
	c.cancelScheduler = cancel
	go services.scheduler.Start(schedCtx)

	setupMiddleware(c.app, c.config, c.builder)
	setupRoutes(c.app, c.config, c.redis, c.db, services, c.enabledEndpoints)

	c.app.Get("/", welcomeHandler())
	return nil
}

// Run sets the collector up and serves until SIGINT/SIGTERM.
func (c *Collector) Run() error {
	if err := c.Setup(); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			fiberlog.Errorf("Failed to release resources: %v", err)
		}
	}()

	listenAddr := ":" + c.config.Server.Port

	fmt.Printf("Tokentra collector starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", c.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := c.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	if err := c.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

// Close stops background work, draining queued batches, then closes the
// datastores. It is safe to call after a failed Setup.
func (c *Collector) Close() error {
	if c.cancelScheduler != nil {
		c.cancelScheduler()
	}

	var errs []error
	if c.services != nil {
		c.services.scheduler.Stop()
		c.services.worker.Stop()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "Tokentra Collector v" + models.SDKVersion,
		EnablePrintRoutes: !isProd,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BodyLimit:         cfg.Server.BodyLimit,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "Tokentra",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return middleware.WriteCode(c, fe.Code, httpErrorCode(fe.Code), fe.Message)
			}
			return middleware.WriteError(c, err)
		},
	})
}

func httpErrorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return models.CodeNotFound
	case fiber.StatusTooManyRequests:
		return models.CodeRateLimitExceeded
	case fiber.StatusRequestTimeout:
		return models.CodeTimeout
	case fiber.StatusUnauthorized:
		return models.CodeMissingAuth
	}
	if status >= 500 {
		return models.CodeInternal
	}
	return models.CodeInvalidRequest
}

func setupMiddleware(app *fiber.App, cfg *config.Config, b *Builder) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	maxRequests, expiration := cfg.Collector.RequestsPerMinute, time.Minute
	keyFunc := func(c *fiber.Ctx) string {
		if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
			return auth
		}
		return c.IP()
	}
	if b != nil && b.GetRateLimitConfig() != nil {
		rlCfg := b.GetRateLimitConfig()
		maxRequests, expiration = rlCfg.Max, rlCfg.Expiration
		if rlCfg.KeyFunc != nil {
			keyFunc = rlCfg.KeyFunc
		}
	}
	app.Use(limiter.New(limiter.Config{
		Max:               maxRequests,
		Expiration:        expiration,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      keyFunc,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == transport.HealthPath
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, "60")
			return middleware.WriteCode(c, fiber.StatusTooManyRequests, models.CodeRateLimitExceeded,
				fmt.Sprintf("%d requests per %v", maxRequests, expiration))
		},
	}))

	requestTimeout := cfg.RequestTimeout()
	if b != nil && b.GetTimeoutConfig() != nil {
		requestTimeout = b.GetTimeoutConfig().Timeout
	}
	app.Use(func(c *fiber.Ctx) error {
		handler := func(c *fiber.Ctx) error {
			return c.Next()
		}
		return timeout.NewWithContext(handler, requestTimeout)(c)
	})

	app.Use(middleware.ProcessingTime())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	allowedHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "User-Agent",
		"X-Request-ID", "X-SDK-Version", "X-SDK-Language",
	}
	exposedHeaders := []string{
		"Content-Length", "Content-Type", "X-Request-ID", "Retry-After",
		middleware.HeaderRemainingMinute, middleware.HeaderRemainingDay,
		middleware.HeaderResetMinute, middleware.HeaderResetDay,
		middleware.HeaderProcessingTime,
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     strings.Join(allowedHeaders, ", "),
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		AllowCredentials: cfg.Server.AllowedOrigins != "*",
		MaxAge:           86400,
		ExposeHeaders:    strings.Join(exposedHeaders, ", "),
	}))

	if b != nil {
		for _, m := range b.GetMiddlewares() {
			app.Use(m)
		}
	}

	if !isProd {
		app.Use(pprof.New())
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - using in-process rate limiter")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	if cfg.Redis.PoolSize > 0 {
		opt.PoolSize = cfg.Redis.PoolSize
	}
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ConnMaxLifetime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	fiberlog.Debugf("Redis client configuration: PoolSize=%d, MinIdle=%d, MaxRetries=%d",
		opt.PoolSize, opt.MinIdleConns, opt.MaxRetries)

	client := redis.NewClient(opt)

	return testRedisConnectionWithRetry(client)
}

func testRedisConnectionWithRetry(client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			delay := time.Duration(attempt) * baseDelay
			fiberlog.Infof("Retrying Redis connection in %v...", delay)
			time.Sleep(delay)
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func setupRoutes(app *fiber.App, cfg *config.Config, redisClient *redis.Client, db *database.DB, svc *collectorServices, enabledEndpoints map[string]bool) {
	isEnabled := func(endpoint string) bool {
		if len(enabledEndpoints) == 0 {
			return true
		}
		return enabledEndpoints[endpoint]
	}

	keyAuth := middleware.NewAPIKeyMiddleware(svc.apiKeys, svc.limiter)
	ingestHandler := api.NewIngestHandler(svc.resolver, svc.usage, svc.worker, cfg.Collector.MaxBatchSize)
	healthHandler := api.NewHealthHandler(db.DB, redisClient)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get(transport.HealthPath, healthHandler.SDKHealth)

	sdkGroup := app.Group("/api/v1/sdk")

	if isEnabled(EndpointIngest) {
		sdkGroup.Get("/ingest", ingestHandler.Status)
		sdkGroup.Post("/ingest", keyAuth.RequireAPIKey(models.ScopeUsageWrite), ingestHandler.Ingest)
	}

	if isEnabled(EndpointOptimization) {
		optimizationHandler := api.NewOptimizationHandler(svc.configStore)
		sdkGroup.Get("/optimization/config", keyAuth.RequireAPIKey(models.ScopeUsageRead), optimizationHandler.Config)
	}

	if isEnabled(EndpointLegacy) {
		legacyHandler := api.NewLegacyHandler(ingestHandler)
		legacyGroup := app.Group("/sdk/v1", keyAuth.RequireAPIKey(models.ScopeUsageWrite))
		legacyGroup.Post("/track", legacyHandler.Track)
		legacyGroup.Post("/batch", legacyHandler.Batch)
	}

	if isEnabled(EndpointAdmin) {
		adminAuth := middleware.NewAdminAuth(cfg.Admin.JWTSecret)
		adminHandler := api.NewAdminHandler(svc.apiKeys, svc.usage)

		keysGroup := app.Group("/admin/api-keys", adminAuth.RequireAdmin())
		keysGroup.Post("/", adminHandler.CreateAPIKey)
		keysGroup.Delete("/:id", adminHandler.RevokeAPIKey)
		keysGroup.Get("/:id/usage", adminHandler.GetUsage)
	}
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Tokentra usage collector",
			"version":    models.SDKVersion,
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"ingest":       transport.IngestPath,
				"track":        transport.TrackPath,
				"batch":        transport.BatchPath,
				"optimization": routing.OptimizationConfigPath,
				"health":       "/health",
			},
		})
	}
}

func runDatabaseMigrations(db *database.DB, svc *collectorServices) error {
	if !db.SupportsUpsert() {
		return database.RunClickHouseMigrations(db.DB)
	}

	migrations := []struct {
		name    string
		migrate func() error
	}{
		{"api_keys", svc.apiKeys.AutoMigrate},
		{"attribution", svc.resolver.AutoMigrate},
		{"usage", svc.usage.AutoMigrate},
		{"budget", svc.budgets.AutoMigrate},
		{"alert", svc.processor.AutoMigrate},
		{"optimization", svc.configStore.AutoMigrate},
	}
	for _, m := range migrations {
		if err := m.migrate(); err != nil {
			return fmt.Errorf("failed to migrate %s tables: %w", m.name, err)
		}
	}
	return nil
}

func initializeServices(db *database.DB, redisClient *redis.Client, cfg *config.Config) (*collectorServices, error) {
	var usageOpts []usage.Option
	if !db.SupportsUpsert() {
		usageOpts = append(usageOpts, usage.WithAppendOnlyRollup())
	}

	svc := &collectorServices{
		apiKeys:     apikey.NewService(db.DB, apikey.WithCacheTTL(cfg.APIKeyCacheTTL())),
		resolver:    attribution.NewResolver(db.DB, attribution.WithCacheTTL(cfg.AttributionCacheTTL())),
		usage:       usage.NewService(db.DB, usageOpts...),
		budgets:     budget.NewService(db.DB),
		configStore: routing.NewConfigStore(db.DB),
	}
	svc.processor = aggregator.NewProcessor(db.DB, svc.budgets, svc.usage,
		aggregator.WithCooldown(cfg.AlertCooldown()),
		aggregator.WithLocation(cfg.BudgetLocation()),
	)

	if err := runDatabaseMigrations(db, svc); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	svc.worker = usage.NewWorker(svc.processor, cfg.Collector.WorkerPoolSize, cfg.Collector.WorkerBufferSize)
	svc.scheduler = scheduler.NewCleanupScheduler(svc.processor, cfg.CleanupInterval()).
		AddPruner("expired API key validations", svc.apiKeys).
		AddPruner("expired attribution lookups", svc.resolver)

	// redis windows expire on their own
	if redisClient != nil {
		svc.limiter = apikey.NewRedisLimiter(redisClient, nil)
	} else {
		svc.memoryLimiter = apikey.NewMemoryLimiter(nil)
		svc.limiter = svc.memoryLimiter
		svc.scheduler.AddPruner("idle rate limit windows", svc.memoryLimiter)
	}

	return svc, nil
}

func initializeInfrastructure(cfg *config.Config) (*collectorInfrastructure, error) {
	infra := &collectorInfrastructure{}

	redisClient, err := createRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	infra.redis = redisClient

	db, err := database.New(*cfg.Database)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	infra.db = db

	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())
	return infra, nil
}
