package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"mailflow/internal/config"
	"mailflow/internal/config_handler"
	"mailflow/internal/constants"
	"mailflow/internal/deduplication"
	"mailflow/internal/engine"
	"mailflow/internal/enrichment"
	"mailflow/internal/enrichment/provider"
	"mailflow/internal/logger"
	"mailflow/internal/mailbox"
	"mailflow/internal/mailets"
	"mailflow/internal/management"
	"mailflow/internal/matchers"
	"mailflow/internal/repository"
	"mailflow/internal/smtpfront"
	"mailflow/internal/spool"
	"mailflow/pkg/bootstrap"
	"mailflow/pkg/cel"
	"mailflow/pkg/health"
	"mailflow/pkg/logging"
	"mailflow/pkg/metrics"
	"mailflow/pkg/middleware"
	"mailflow/pkg/migrations"
	"mailflow/pkg/ratelimit"
	"mailflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	configFile  string
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
	mailRepo    repository.Repository
	s3          *minio.Client

	registry *engine.Registry
	loader   *engine.Loader
	ingester *spool.Ingester
	spooler  *spool.Spooler

	smtp           *smtpfront.Server
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, configFile string, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}

	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		configFile:  configFile,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterDeliveryMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterManagementMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	router, err := a.initPipeline()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	a.spooler = spool.NewSpooler(a.Consumer, a.spoolTopic(), router, a.buildRouter, a.Config.Engine.Workers, a.Logger)

	if a.Config.Broker.Kafka.ConfigUpdateTopic != "" {
		if err := a.InitControlConsumer(serviceName, instanceID()); err != nil {
			return fmt.Errorf("failed to initialize config event consumer: %w", err)
		}
	}

	if a.Config.SMTP.Enabled {
		a.smtp = smtpfront.NewServer(a.Config.SMTP, a.ingester.ForSource("smtp"), a.Logger)
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

// Check connects the stores and builds the pipeline once.
func (a *App) Check(ctx context.Context) (*engine.Router, error) {
	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	if err := a.InitBroker(serviceName); err != nil {
		return nil, err
	}
	return a.initPipeline()
}

func (a *App) initStores(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		a.mongoClient = mongoClient
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		a.mongoDB = mongoClient.Database(dbName)
		a.mailRepo = repository.NewMongoRepository(a.mongoDB)
	}

	s3, err := a.dbConnector.InitS3(ctx)
	if err != nil {
		return err
	}
	a.s3 = s3

	if a.Config.Database.RunMigrations {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) migrate(ctx context.Context) error {
	if a.db != nil {
		if err := mailbox.Migrate(a.db); err != nil {
			return err
		}
		if err := management.Migrate(a.db); err != nil {
			return err
		}
	}
	if a.mongoDB != nil {
		if err := migrations.EnsureMailRepositoryIndexes(ctx, a.mongoDB); err != nil {
			return err
		}
	}
	a.Logger.InfowCtx(ctx, "Migrations applied")
	return nil
}

// initPipeline registers the built-in components against the stores that
// are configured and builds the first router. Components whose store is
// missing fail only when a processor references them.
func (a *App) initPipeline() (*engine.Router, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	a.ingester = spool.NewIngester(a.Producer, a.spoolTopic(), a.Logger)

	matcherDeps := matchers.Deps{
		LocalDomains: a.Config.Engine.LocalDomains,
		Evaluator:    evaluator,
		Logger:       a.Logger,
	}
	mailetDeps := mailets.Deps{
		Logger:     a.Logger,
		Evaluator:  evaluator,
		Submitter:  a.ingester.ForSource("mailet"),
		Postmaster: a.Config.Engine.Postmaster,
		Retry:      a.Config.Delivery.Retry.Policy(),
		Breaker:    a.Config.CircuitBreaker,
	}

	if a.db != nil {
		store := mailbox.NewStore(a.db)
		matcherDeps.Directory = store
		mailetDeps.Mailboxes = store
	}
	if a.redis != nil {
		dedupStore := deduplication.NewBreakerStore(deduplication.NewRedisStore(a.redis), a.Config.CircuitBreaker)
		matcherDeps.Duplicates = deduplication.NewDetector(dedupStore, a.Config.Duplicate, a.Logger)
		mailetDeps.Rewrites = mailets.NewRedisRewriteTable(a.redis, a.Config.CircuitBreaker)
	}
	if a.mailRepo != nil {
		mailetDeps.Repository = a.mailRepo
	}
	if a.Config.Delivery.Smarthost != "" {
		mailetDeps.Transport = mailets.NewSMTPTransport(a.Config.Delivery, a.Config.CircuitBreaker)
	}
	if a.s3 != nil {
		mailetDeps.Archive = mailets.NewS3Archiver(a.s3, a.Config.Storage.S3.Bucket, a.Config.CircuitBreaker)
	}
	mailetDeps.Enricher = a.initEnrichment()

	registry := engine.NewRegistry()
	matchers.Register(registry, matcherDeps)
	mailets.Register(registry, mailetDeps)
	a.registry = registry
	a.loader = engine.NewLoader(registry, a.Logger)

	return a.loader.Build(a.Config.Pipeline, a.routerOptions()...)
}

// initEnrichment offers every lookup source whose backing store is
// configured, narrowed by enrichment.sources when set.
func (a *App) initEnrichment() *enrichment.Service {
	allowed := func(sourceType string) bool {
		if len(a.Config.Enrichment.Sources) == 0 {
			return true
		}
		return slices.Contains(a.Config.Enrichment.Sources, sourceType)
	}

	providers := map[string]provider.DataProvider{
		provider.TypeAPI: provider.NewAPIProvider(),
	}
	if a.redis != nil {
		providers[provider.TypeCache] = provider.NewCacheProvider(a.redis)
	}
	if a.mongoClient != nil {
		providers[provider.TypeMongoDB] = provider.NewMongoDBProvider(a.mongoClient)
	}
	if a.db != nil {
		providers[provider.TypePostgres] = provider.NewPostgreSQLProvider(a.db)
	}

	var opts []enrichment.Option
	for sourceType, p := range providers {
		if !allowed(sourceType) {
			continue
		}
		opts = append(opts, enrichment.WithProvider(sourceType, provider.WithCircuitBreaker(p, sourceType, a.Config.CircuitBreaker)))
		a.Logger.Infow("Enrichment source enabled", "source", sourceType)
	}
	if a.redis != nil && a.Config.Enrichment.CacheTTL > 0 {
		opts = append(opts, enrichment.WithCache(a.redis, a.Config.Enrichment.CacheTTL))
	}

	return enrichment.NewService(a.Logger.Named("enrichment"), opts...)
}

func (a *App) routerOptions() []engine.RouterOption {
	return []engine.RouterOption{
		engine.WithMaxVisits(a.Config.Engine.MaxVisits),
		engine.WithLogger(a.Logger),
	}
}

// buildRouter re-reads the pipeline section for reloads, from the pipeline
// file when one is configured and from the main config file otherwise.
func (a *App) buildRouter() (*engine.Router, error) {
	file := a.Config.Engine.PipelineFile
	if file == "" {
		file = a.configFile
	}

	pipeline, err := config.LoadPipeline(file)
	if err != nil {
		return nil, err
	}
	return a.loader.Build(*pipeline, a.routerOptions()...)
}

func (a *App) spoolTopic() string {
	if a.Config.Broker.Type == constants.BrokerKafka && a.Config.Broker.Kafka.SpoolTopic != "" {
		return a.Config.Broker.Kafka.SpoolTopic
	}
	return constants.DefaultSpoolTopic
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.Config.Management.RateLimit.RPS,
			Burst:           a.Config.Management.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.Management.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.Management.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	opts := []management.ServiceOption{
		management.WithServiceLogger(a.Logger),
		management.WithCatalog(a.registry),
	}
	if a.mailRepo != nil {
		opts = append(opts, management.WithRepository(a.mailRepo))
	}
	if a.db != nil {
		opts = append(opts, management.WithAudit(management.NewAuditLogger(a.db)))
	}
	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		opts = append(opts, management.WithConfigEvents(management.NewConfigEventProducer(a.Producer, topic)))
	}

	svc := management.NewService(a.spooler, a.ingester.ForSource("api"), opts...)
	management.NewHandler(svc, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewFuncChecker("pipeline", false, func(ctx context.Context) error {
		if a.spooler.Router() == nil {
			return fmt.Errorf("no pipeline loaded")
		}
		return nil
	}))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}
	if a.s3 != nil {
		healthRegistry.Register(health.NewS3Checker(a.s3, a.Config.Storage.S3.Bucket))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.smtp != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "SMTP server starting", "addr", a.Config.SMTP.Addr)
			if err := a.smtp.ListenAndServe(); err != nil {
				return fmt.Errorf("SMTP server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		spoolCtx := logging.WithServiceName(gCtx, serviceName)
		a.Logger.InfowCtx(spoolCtx, "Spool consumer starting", "topic", a.spoolTopic(), "workers", a.Config.Engine.Workers)
		return a.spooler.Run(gCtx)
	})

	if a.Control != nil {
		topic := a.Config.Broker.Kafka.ConfigUpdateTopic
		configEventHandler := config_handler.NewHandler(a.spooler, a.Logger)
		g.Go(func() error {
			configCtx := logging.WithServiceName(gCtx, serviceName)
			a.Logger.InfowCtx(configCtx, "Starting config update event consumer", "topic", topic)
			err := a.Control.Consume(gCtx, topic, configEventHandler.HandleConfigUpdateEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.stopListeners()
	})

	return g.Wait()
}

// stopListeners stops accepting mail and API requests. The spool keeps
// draining until Shutdown.
func (a *App) stopListeners() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.smtp != nil {
		if err := a.smtp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("SMTP server shutdown error: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down mailflow")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.spooler != nil {
			if err := a.drainSpooler(); err != nil {
				errs = append(errs, err)
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

func (a *App) drainSpooler() error {
	done := make(chan error, 1)
	go func() { done <- a.spooler.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("spooler close error: %w", err)
		}
		return nil
	case <-time.After(constants.DrainTimeout):
		return fmt.Errorf("spooler did not drain within %s", constants.DrainTimeout)
	}
}

// instanceID names this process in the per-instance config event group.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
