package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.Engine.PipelineFile != "" {
		pipeline, err := LoadPipeline(cfg.Engine.PipelineFile)
		if err != nil {
			return nil, err
		}
		cfg.Pipeline = *pipeline
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadPipeline reads only the pipeline section of a YAML file. It uses its
// own viper instance so reloads never disturb the process configuration.
func LoadPipeline(file string) (*PipelineConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", file, err)
	}

	var pipeline PipelineConfig
	if err := v.UnmarshalKey("pipeline", &pipeline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline: %w", err)
	}

	if err := ValidatePipeline(&pipeline); err != nil {
		return nil, err
	}

	return &pipeline, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "10s")
	v.SetDefault("server.write_timeout_seconds", "10s")

	v.SetDefault("smtp.addr", ":2525")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", 25*1024*1024)
	v.SetDefault("smtp.max_recipients", 100)
	v.SetDefault("smtp.read_timeout", "60s")
	v.SetDefault("smtp.write_timeout", "60s")

	v.SetDefault("broker.type", "memory")
	v.SetDefault("broker.memory.queue_size", 1024)
	v.SetDefault("broker.memory.workers", 1)
	v.SetDefault("broker.memory.retry.max_attempts", 1)
	v.SetDefault("broker.kafka.spool_topic", "mail_spool")
	v.SetDefault("broker.kafka.workers", 1)
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.workers", 16)

	v.SetDefault("delivery.timeout", "30s")
	v.SetDefault("delivery.retry.max_attempts", 3)
	v.SetDefault("delivery.retry.initial_interval", "1s")
	v.SetDefault("delivery.retry.max_interval", "30s")
	v.SetDefault("delivery.retry.multiplier", 2.0)

	v.SetDefault("duplicate.ttl_seconds", 3600)
	v.SetDefault("duplicate.on_redis_error", "allow")
	v.SetDefault("duplicate.hash_algorithm", "blake3")

	v.SetDefault("enrichment.cache_ttl", "5m")
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.spool_topic", "BROKER_KAFKA_SPOOL_TOPIC")
	viper.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("smtp.addr", "SMTP_ADDR")
	viper.BindEnv("smtp.domain", "SMTP_DOMAIN")

	viper.BindEnv("engine.workers", "ENGINE_WORKERS")
	viper.BindEnv("engine.pipeline_file", "ENGINE_PIPELINE_FILE")
	viper.BindEnv("delivery.smarthost", "DELIVERY_SMARTHOST")

	viper.BindEnv("storage.s3.endpoint", "STORAGE_S3_ENDPOINT")
	viper.BindEnv("storage.s3.access_key", "STORAGE_S3_ACCESS_KEY")
	viper.BindEnv("storage.s3.secret_key", "STORAGE_S3_SECRET_KEY")
	viper.BindEnv("storage.s3.bucket", "STORAGE_S3_BUCKET")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if domainsEnv := viper.GetString("ENGINE_LOCAL_DOMAINS"); domainsEnv != "" {
		cfg.Engine.LocalDomains = splitList(domainsEnv)
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
