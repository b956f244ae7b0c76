package config

import (
	"time"

	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/retry"
)

type Config struct {
	Server         ServerConfig
	SMTP           SMTPConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Engine         EngineConfig
	Delivery       DeliveryConfig
	Storage        StorageConfig
	Duplicate      DuplicateConfig
	Enrichment     EnrichmentConfig
	Management     ManagementConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
	Pipeline       PipelineConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type SMTPConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Addr              string        `mapstructure:"addr"`
	Domain            string        `mapstructure:"domain"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	MaxRecipients     int           `mapstructure:"max_recipients"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	AllowInsecureAuth bool          `mapstructure:"allow_insecure_auth"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type   string       `mapstructure:"type"` // "kafka" or "memory"
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	SpoolTopic        string      `mapstructure:"spool_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Workers           int         `mapstructure:"workers"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type MemoryConfig struct {
	QueueSize int         `mapstructure:"queue_size"`
	Workers   int         `mapstructure:"workers"`
	DLQTopic  string      `mapstructure:"dlq_topic"`
	Retry     RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// Policy converts the configuration, falling back to retry.DefaultPolicy
// for unset fields.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialInterval > 0 {
		p.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.MaxElapsedTime > 0 {
		p.MaxElapsedTime = c.MaxElapsedTime
	}
	return p
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	// Workers bounds the number of mails dispatched concurrently.
	Workers int `mapstructure:"workers"`
	// MaxVisits bounds processor visits per mail. Zero means the number of
	// configured processors.
	MaxVisits    int      `mapstructure:"max_visits"`
	LocalDomains []string `mapstructure:"local_domains"`
	Postmaster   string   `mapstructure:"postmaster"`
	// PipelineFile, when set, holds the pipeline section instead of the
	// main config file. Reloads re-read it.
	PipelineFile string `mapstructure:"pipeline_file"`
}

type DeliveryConfig struct {
	Smarthost string        `mapstructure:"smarthost"`
	HeloName  string        `mapstructure:"helo_name"`
	StartTLS  bool          `mapstructure:"starttls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type DuplicateConfig struct {
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	OnRedisError  string `mapstructure:"on_redis_error"` // "allow", "deny", "error"
	HashAlgorithm string `mapstructure:"hash_algorithm"` // "blake3" (default) or "sha256"
}

type EnrichmentConfig struct {
	// CacheTTL keeps fetched records in Redis. Zero disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// Sources limits the provider types offered to the Enrich mailet.
	// Empty enables every type whose backing store is configured.
	Sources []string `mapstructure:"sources"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func (c CircuitBreakerConfig) Options() circuitbreaker.Options {
	return circuitbreaker.Options{
		Enabled:      c.Enabled,
		MaxRequests:  c.MaxRequests,
		Interval:     c.Interval,
		Timeout:      c.Timeout,
		FailureRatio: c.FailureRatio,
		MinRequests:  c.MinRequests,
	}
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
