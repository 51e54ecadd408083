package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopify-catalog-mirror/internal/application"
	"shopify-catalog-mirror/internal/config"
	"shopify-catalog-mirror/internal/infrastructure/api"
	"shopify-catalog-mirror/internal/infrastructure/encryption"
	"shopify-catalog-mirror/internal/infrastructure/lock"
	"shopify-catalog-mirror/internal/infrastructure/metrics"
	"shopify-catalog-mirror/internal/infrastructure/pubsub"
	"shopify-catalog-mirror/internal/infrastructure/repository"
	shopifyinfra "shopify-catalog-mirror/internal/infrastructure/shopify"
	"shopify-catalog-mirror/internal/ports"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger = logger.Level(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	encryptionService, err := encryption.NewService(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	// Postgres is opened once and shared by both stores when either uses it
	var pool *pgxpool.Pool
	if cfg.CatalogBackend == config.BackendPostgres || cfg.CredentialBackend == config.BackendPostgres {
		if err := repository.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		pool, err = repository.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
	}

	var catalogRepo ports.CatalogRepository
	switch cfg.CatalogBackend {
	case config.BackendPostgres:
		catalogRepo = repository.NewPostgresCatalogRepository(pool)
	default:
		logger.Warn().Msg("Using in-memory catalog store, the mirror is lost on restart")
		catalogRepo = repository.NewMemoryCatalogRepository()
	}

	var credentialRepo ports.CredentialRepository
	switch cfg.CredentialBackend {
	case config.BackendPostgres:
		credentialRepo = repository.NewPostgresCredentialRepository(pool)
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer client.Disconnect(context.Background())

		mongoRepo := repository.NewMongoCredentialRepository(client.Database(cfg.MongoDatabase))
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
		}
		credentialRepo = mongoRepo
	default:
		logger.Warn().Msg("Using in-memory credential store, credentials are lost on restart")
		credentialRepo = repository.NewMemoryCredentialRepository()
	}

	var locker ports.SyncLocker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisClient, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.Sync.LockTTL, logger)
	}

	catalogClient, err := shopifyinfra.NewClient(shopifyinfra.ClientOptions{
		APIKey:             cfg.Shopify.APIKey,
		APISecret:          cfg.Shopify.APISecret,
		APIVersion:         cfg.Shopify.APIVersion,
		RequestTimeout:     cfg.Shopify.RequestTimeout,
		VariantsPerProduct: cfg.Shopify.VariantsPerProduct,
		MediaPerProduct:    cfg.Shopify.MediaPerProduct,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Shopify client")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncEvents := pubsub.NewSyncPubSub(logger)

	retry := application.RetryPolicy{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
	}

	// Initialize application services
	credentialsService := application.NewCredentialsService(credentialRepo, encryptionService, logger)
	syncService := application.NewSyncService(
		credentialsService,
		catalogClient,
		catalogRepo,
		locker,
		retry,
		cfg.Shopify.PageSize,
		logger,
		application.NewLogObserver(logger),
		metrics.NewSyncMetrics(registry),
		syncEvents,
	)
	reconcileService := application.NewReconcileService(
		credentialsService,
		catalogClient,
		catalogRepo,
		locker,
		retry,
		cfg.Shopify.PageSize,
		logger,
	)
	catalogService := application.NewCatalogService(catalogRepo, catalogClient, credentialsService, logger)
	scheduler := application.NewScheduler(credentialsService, syncService, cfg.Sync.Interval, cfg.Sync.Concurrency, logger)

	server := api.NewServer(api.Services{
		Credentials: credentialsService,
		Sync:        syncService,
		Reconciler:  reconcileService,
		Catalog:     catalogService,
		Events:      syncEvents,
	}, registry, "./docs/swagger.json", logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go scheduler.Run(ctx)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("catalogBackend", cfg.CatalogBackend).
			Str("credentialBackend", cfg.CredentialBackend).
			Bool("distributedLock", cfg.RedisURL != "").
			Msg("Starting API server")
		logger.Info().Msg("Swagger documentation available at http://localhost:" + cfg.Port + "/swagger/index.html")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down HTTP server")
	}
	if err := syncService.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sync runs did not stop in time")
	}
}
