package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	BackendMongo      = "mongo"
	BackendClickhouse = "clickhouse"
	BackendMemory     = "memory"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Mongo         MongoConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Auth          AuthConfig
	Analytics     AnalyticsConfig
	Monitoring    MonitoringConfig
	Seed          SeedConfig
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string

	EnableTLS   bool
	TLSPort     int
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MongoConfig struct {
	URI              string
	Database         string
	EventsCollection string
	Timeout          time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int

	// Used only for rediss:// URLs. The client pair is optional.
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	IngestTopic  string
	UpdatesTopic string
	GroupID      string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
	CAFile   string
}

type AuthConfig struct {
	ClientJWTSecret    string
	AdminJWTSecret     string
	ClientTokenTTL     time.Duration
	AdminTokenTTL      time.Duration
	MaxLoginAttempts   int
	LoginAttemptWindow time.Duration
	BcryptCost         int
}

type AnalyticsConfig struct {
	// StoreBackend is the database of record for events (mongo or memory).
	StoreBackend string
	// Backend is the store the dashboard aggregations read from.
	Backend     string
	ExportLimit int
}

// MonitoringConfig carries figures owned by the external monitoring system.
type MonitoringConfig struct {
	SystemUptime        float64
	AverageResponseTime float64
}

type SeedConfig struct {
	Enabled        bool
	EventCount     int
	AdminEmail     string
	AdminPassword  string
	ClientEmail    string
	ClientPassword string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	for _, path := range []string{".env", "../.env", "/app/.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg := &Config{
		Environment: GetEnv("APP_ENV", EnvDevelopment),
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8001),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
			EnableTLS:      getEnvBool("TLS_ENABLED", false),
			TLSPort:        getEnvInt("TLS_PORT", 8443),
			AutoCert:       getEnvBool("TLS_AUTOCERT", false),
			Domain:         GetEnv("TLS_DOMAIN", "localhost"),
			CertFile:       GetEnv("TLS_CERT_FILE", ""),
			KeyFile:        GetEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    GetEnv("TLS_AUTOCERT_DIR", "./certs"),
			Email:          GetEnv("TLS_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "console"),
		},
		Mongo: MongoConfig{
			URI:              GetEnv("MONGO_URL", "mongodb://127.0.0.1:27017"),
			Database:         GetEnv("DB_NAME", "havosec"),
			EventsCollection: GetEnv("MONGO_EVENTS_COLLECTION", "security_events"),
			Timeout:          getEnvDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),

			TLSCAFile:   GetEnv("REDIS_TLS_CA_FILE", ""),
			TLSCertFile: GetEnv("REDIS_TLS_CERT_FILE", ""),
			TLSKeyFile:  GetEnv("REDIS_TLS_KEY_FILE", ""),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			IngestTopic:  GetEnv("KAFKA_INGEST_TOPIC", "security-events.ingest"),
			UpdatesTopic: GetEnv("KAFKA_UPDATES_TOPIC", "security-events.updates"),
			GroupID:      GetEnv("KAFKA_GROUP_ID", "havosec-dashboard"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    GetEnv("ELASTICSEARCH_INDEX", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "havosec"),
			Table:    GetEnv("CLICKHOUSE_EVENTS_TABLE", "security_events"),
			CAFile:   GetEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Auth: AuthConfig{
			ClientJWTSecret:    GetEnv("JWT_SECRET", ""),
			AdminJWTSecret:     GetEnv("ADMIN_JWT_SECRET", ""),
			ClientTokenTTL:     getEnvDuration("CLIENT_TOKEN_TTL", 7*24*time.Hour),
			AdminTokenTTL:      getEnvDuration("ADMIN_TOKEN_TTL", 24*time.Hour),
			MaxLoginAttempts:   getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
			LoginAttemptWindow: getEnvDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
			BcryptCost:         getEnvInt("BCRYPT_COST", 12),
		},
		Analytics: AnalyticsConfig{
			StoreBackend: GetEnv("STORE_BACKEND", BackendMongo),
			Backend:      GetEnv("ANALYTICS_BACKEND", BackendMongo),
			ExportLimit:  getEnvInt("EXPORT_LIMIT", 10000),
		},
		Monitoring: MonitoringConfig{
			SystemUptime:        getEnvFloat("MONITORING_SYSTEM_UPTIME", 99.87),
			AverageResponseTime: getEnvFloat("MONITORING_AVG_RESPONSE_TIME", 0.85),
		},
		Seed: SeedConfig{
			Enabled:        getEnvBool("SEED_ENABLED", true),
			EventCount:     getEnvInt("SEED_EVENT_COUNT", 100),
			AdminEmail:     GetEnv("SEED_ADMIN_EMAIL", "admin@havosec.com"),
			AdminPassword:  GetEnv("SEED_ADMIN_PASSWORD", ""),
			ClientEmail:    GetEnv("SEED_CLIENT_EMAIL", "demo@havosec.com"),
			ClientPassword: GetEnv("SEED_CLIENT_PASSWORD", ""),
		},
	}

	if !cfg.IsProduction() {
		if cfg.Auth.ClientJWTSecret == "" {
			cfg.Auth.ClientJWTSecret = "havosec-dev-client-secret"
		}
		if cfg.Auth.AdminJWTSecret == "" {
			cfg.Auth.AdminJWTSecret = "havosec-dev-admin-secret"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return &Config{Environment: EnvDevelopment}
	}
	return current
}

func (c *Config) Validate() error {
	if c.Auth.ClientJWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required")
	}
	if c.Auth.ClientJWTSecret == c.Auth.AdminJWTSecret {
		return fmt.Errorf("JWT_SECRET and ADMIN_JWT_SECRET must differ")
	}

	switch c.Analytics.StoreBackend {
	case BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of mongo, memory (got %q)", c.Analytics.StoreBackend)
	}

	switch c.Analytics.Backend {
	case BackendMongo, BackendMemory:
		if c.Analytics.Backend != c.Analytics.StoreBackend {
			return fmt.Errorf("ANALYTICS_BACKEND %q requires STORE_BACKEND %q", c.Analytics.Backend, c.Analytics.Backend)
		}
	case BackendClickhouse:
		if !c.Clickhouse.Enabled {
			return fmt.Errorf("ANALYTICS_BACKEND=clickhouse requires CLICKHOUSE_ENABLED=true")
		}
	default:
		return fmt.Errorf("ANALYTICS_BACKEND must be one of mongo, clickhouse, memory (got %q)", c.Analytics.Backend)
	}

	if c.Analytics.ExportLimit <= 0 {
		return fmt.Errorf("EXPORT_LIMIT must be positive")
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when Kafka is enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// GetEnv returns the value of key or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
