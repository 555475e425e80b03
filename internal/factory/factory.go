package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"havosec-api/internal/client"
	"havosec-api/internal/config"
	"havosec-api/internal/handler"
	"havosec-api/internal/ingest"
	"havosec-api/internal/repository"
	"havosec-api/internal/repository/clickhouse"
	"havosec-api/internal/repository/memory"
	"havosec-api/internal/repository/mongodb"
	rediscache "havosec-api/internal/repository/redis"
	"havosec-api/internal/search"
	"havosec-api/internal/seed"
	"havosec-api/internal/service"
	"havosec-api/internal/tls"
	"havosec-api/internal/util"
)

const initTimeout = 30 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.Manager

	// Clients
	mongoClient      *client.MongoClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Repositories
	eventStore      repository.EventStore
	analyticsReader repository.EventReader
	userRepository  repository.UserRepository
	eventIndex      *search.EventIndex
	sinks           []repository.EventSink

	serviceFactory *service.ServiceFactory
	searchService  *service.SearchService
	healthService  *service.HealthService

	closeOnce sync.Once
}

// NewFactory loads configuration, initialises logging and builds every
// dependency.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(cfg, logger)
}

// New builds the dependency graph from an already loaded configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	f := &Factory{
		config: cfg,
		logger: logger,
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server, cfg.Environment)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeRepositories(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	f.initializeServices()

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", f.storeBackend()),
		util.String("analytics_backend", cfg.Analytics.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_enabled", f.redisClient != nil),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("search_enabled", f.eventIndex != nil),
		util.Bool("clickhouse_enabled", f.clickhouseClient != nil),
	)
	return f, nil
}

// initializeClients connects the enabled backends. Outside production a
// failed optional backend is logged and skipped.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	var initErrors []error

	if cfg.Analytics.StoreBackend == config.BackendMongo {
		if c, err := client.NewMongoClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("mongo: %w", err))
		} else {
			f.mongoClient = c
		}
	}

	if cfg.Redis.Enabled {
		if c, err := client.NewRedisClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			_ = c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
			f.logger.Info("Redis client initialized and healthy")
		}
	}

	if cfg.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = p
			f.kafkaConsumer = client.NewKafkaConsumer(cfg, cfg.Kafka.IngestTopic, cfg.Kafka.GroupID)
		}
	}

	if cfg.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			f.logger.Info("Elasticsearch client initialized and healthy")
		}
	}

	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}

	if len(initErrors) == 0 {
		return nil
	}
	if cfg.IsProduction() {
		return fmt.Errorf("critical service initialization failed: %v", initErrors)
	}
	for _, err := range initErrors {
		f.logger.Warn("Service initialization warning", util.ErrorField(err))
	}
	if cfg.Analytics.Backend == config.BackendClickhouse && f.clickhouseClient == nil {
		return fmt.Errorf("analytics backend clickhouse is unavailable")
	}
	return nil
}

func (f *Factory) storeBackend() string {
	if f.mongoClient != nil {
		return config.BackendMongo
	}
	return config.BackendMemory
}

func (f *Factory) initializeRepositories(ctx context.Context) error {
	cfg := f.config

	if f.mongoClient != nil {
		events := mongodb.NewEventRepository(f.mongoClient.Collection(cfg.Mongo.EventsCollection))
		if err := events.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo event indexes: %w", err)
		}
		users := mongodb.NewUserRepository(f.mongoClient.Database)
		if err := users.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo user indexes: %w", err)
		}
		f.eventStore, f.userRepository = events, users
	} else {
		if cfg.Analytics.StoreBackend == config.BackendMongo {
			f.logger.Warn("MongoDB unavailable, falling back to the in-memory event store")
		}
		f.eventStore, f.userRepository = memory.NewEventStore(), memory.NewUserStore()
	}
	f.analyticsReader = f.eventStore

	if f.clickhouseClient != nil {
		repo, err := clickhouse.NewEventRepository(f.clickhouseClient, cfg.Clickhouse.Table)
		if err != nil {
			return err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
		f.sinks = append(f.sinks, repo)
		if cfg.Analytics.Backend == config.BackendClickhouse {
			f.analyticsReader = repo
		}
	}

	if f.esClient != nil {
		index := search.NewEventIndex(f.esClient, cfg.Elasticsearch.Index)
		if err := index.EnsureIndex(ctx); err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("elasticsearch index: %w", err)
			}
			f.logger.Warn("Search index unavailable, search disabled", util.ErrorField(err))
		} else {
			f.eventIndex = index
			f.sinks = append(f.sinks, index)
		}
	}
	return nil
}

func (f *Factory) initializeServices() {
	deps := service.Dependencies{
		Events:    f.eventStore,
		Analytics: f.analyticsReader,
		Sinks:     f.sinks,
		Users:     f.userRepository,
	}
	// Interface fields stay nil unless the backing client exists.
	if f.redisClient != nil {
		deps.Limiter = rediscache.NewRateLimitCache(f.redisClient)
		deps.Revoker = rediscache.NewSessionCache(f.redisClient)
	}
	if f.kafkaProducer != nil {
		deps.Publisher = ingest.NewPublisher(f.kafkaProducer, f.config.Kafka.UpdatesTopic)
	}
	f.serviceFactory = service.NewServiceFactory(deps, f.config, f.logger)

	var searcher service.EventSearcher
	if f.eventIndex != nil {
		searcher = f.eventIndex
	}
	f.searchService = service.NewSearchService(searcher, f.logger.Named("search"))

	f.healthService = service.NewHealthService(f.healthChecks(), service.StaticMonitoring{
		Uptime:       f.config.Monitoring.SystemUptime,
		ResponseTime: f.config.Monitoring.AverageResponseTime,
	}, f.logger.Named("health"))
}

func (f *Factory) healthChecks() map[string]service.HealthCheck {
	checks := make(map[string]service.HealthCheck)
	if f.mongoClient != nil {
		checks["mongo"] = f.mongoClient.HealthCheck
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	return checks
}

// ==============================
// Application wiring
// ==============================

// Router builds the HTTP handler tree.
func (f *Factory) Router() http.Handler {
	services := f.serviceFactory
	auth := services.AuthService()
	return handler.NewRouter(handler.RouterConfig{
		Auth:           handler.NewAuthHandler(auth, f.logger.Named("http")),
		Dashboard:      handler.NewDashboardHandler(services.AnalyticsService(), f.searchService, f.healthService, f.logger.Named("http")),
		Events:         handler.NewEventHandler(services.EventService(), f.logger.Named("http")),
		Authenticator:  auth,
		AllowedOrigins: f.config.Server.AllowedOrigins,
		RequireTLS:     f.config.Server.EnableTLS && f.config.IsProduction(),
	}, f.logger)
}

// Consumer returns the ingestion consumer, or nil when Kafka is disabled.
func (f *Factory) Consumer() *ingest.Consumer {
	if f.kafkaConsumer == nil {
		return nil
	}
	return ingest.NewConsumer(f.kafkaConsumer, f.serviceFactory.EventService(), f.logger.Named("kafka-consumer"))
}

// Seeder returns the demo data seeder.
func (f *Factory) Seeder() *seed.Seeder {
	return seed.NewSeeder(f.eventStore, f.serviceFactory.EventService(), f.serviceFactory.AuthService(),
		f.config.Seed, f.logger.Named("seed"))
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	for name, check := range f.healthChecks() {
		if err := check(ctx); err != nil {
			healthErrors[name] = err
		}
	}
	return healthErrors
}

// IsHealthy ignores Kafka; the API keeps serving while the feed is down.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		f.logger.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			_ = f.kafkaConsumer.Close()
		}
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.mongoClient != nil {
			_ = f.mongoClient.Close()
		}

		_ = f.logger.Sync()
		f.logger.Info("Factory shutdown completed")
	})
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) SearchService() *service.SearchService {
	return f.searchService
}

func (f *Factory) HealthService() *service.HealthService {
	return f.healthService
}
