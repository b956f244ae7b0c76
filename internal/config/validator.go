package config

import (
	"fmt"
	"strings"

	"mailflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateSMTP(cfg.SMTP); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateEngine(cfg.Engine); err != nil {
		errors = append(errors, err)
	}

	if err := validateDuplicate(cfg.Duplicate); err != nil {
		errors = append(errors, err)
	}

	if err := validateStorage(cfg.Storage); err != nil {
		errors = append(errors, err)
	}

	if err := validateEnrichment(cfg.Enrichment); err != nil {
		errors = append(errors, err)
	}

	if err := ValidatePipeline(&cfg.Pipeline); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateSMTP(cfg SMTPConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.Addr == "" {
		return &ValidationError{
			Field:   "smtp.addr",
			Message: "listen address is required when SMTP is enabled",
		}
	}

	if cfg.MaxMessageBytes < 0 {
		return &ValidationError{
			Field:   "smtp.max_message_bytes",
			Message: "max_message_bytes must be non-negative",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	case constants.BrokerKafka:
		return validateKafka(cfg.Kafka)
	case constants.BrokerMemory:
		if cfg.Memory.QueueSize < 0 {
			return &ValidationError{
				Field:   "broker.memory.queue_size",
				Message: "queue size must be non-negative",
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, memory)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.SpoolTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.spool_topic",
			Message: "spool topic is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateEngine(cfg EngineConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "engine.workers",
			Message: fmt.Sprintf("workers must be at least 1, got %d", cfg.Workers),
		}
	}

	if cfg.MaxVisits < 0 {
		return &ValidationError{
			Field:   "engine.max_visits",
			Message: "max_visits must be non-negative",
		}
	}

	for i, domain := range cfg.LocalDomains {
		if domain == "" || strings.Contains(domain, "@") {
			return &ValidationError{
				Field:   fmt.Sprintf("engine.local_domains[%d]", i),
				Message: fmt.Sprintf("invalid domain %q", domain),
			}
		}
	}

	return nil
}

func validateDuplicate(cfg DuplicateConfig) error {
	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "duplicate.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	switch cfg.HashAlgorithm {
	case "", "blake3", "sha256":
	default:
		return &ValidationError{
			Field:   "duplicate.hash_algorithm",
			Message: fmt.Sprintf("invalid hash_algorithm: %s (valid: blake3, sha256)", cfg.HashAlgorithm),
		}
	}

	switch strings.ToLower(cfg.OnRedisError) {
	case "", constants.FallbackAllow, constants.FallbackDeny, constants.FallbackError:
		return nil
	default:
		return &ValidationError{
			Field:   "duplicate.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny, error)", cfg.OnRedisError),
		}
	}
}

func validateStorage(cfg StorageConfig) error {
	if !cfg.S3.Enabled {
		return nil
	}

	if cfg.S3.Endpoint == "" {
		return &ValidationError{
			Field:   "storage.s3.endpoint",
			Message: "S3 endpoint is required when storage is enabled",
		}
	}

	if cfg.S3.Bucket == "" {
		return &ValidationError{
			Field:   "storage.s3.bucket",
			Message: "S3 bucket is required when storage is enabled",
		}
	}

	return nil
}

func validateEnrichment(cfg EnrichmentConfig) error {
	if cfg.CacheTTL < 0 {
		return &ValidationError{
			Field:   "enrichment.cache_ttl",
			Message: "cache TTL must be non-negative",
		}
	}

	for _, source := range cfg.Sources {
		switch source {
		case "api", "cache", "mongodb", "postgres":
		default:
			return &ValidationError{
				Field:   "enrichment.sources",
				Message: fmt.Sprintf("invalid source type: %s (valid: api, cache, mongodb, postgres)", source),
			}
		}
	}

	return nil
}

// ValidatePipeline performs the structural checks that need no registry:
// names, reserved states, and match/notmatch exclusivity. Component
// resolution happens when the router is built.
func ValidatePipeline(cfg *PipelineConfig) error {
	if len(cfg.Processors) == 0 {
		return &ValidationError{
			Field:   "pipeline.processors",
			Message: "at least one processor is required",
		}
	}

	seen := make(map[string]bool, len(cfg.Processors))
	for i, proc := range cfg.Processors {
		field := fmt.Sprintf("pipeline.processors[%d]", i)

		if proc.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "processor name is required"}
		}
		if proc.Name == constants.StateGhost {
			return &ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("%q is reserved and cannot name a processor", constants.StateGhost),
			}
		}
		if seen[proc.Name] {
			return &ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate processor name %q", proc.Name),
			}
		}
		seen[proc.Name] = true

		for j, rule := range proc.Rules {
			ruleField := fmt.Sprintf("%s.rules[%d]", field, j)
			if (rule.Match == "") == (rule.NotMatch == "") {
				return &ValidationError{
					Field:   ruleField,
					Message: "exactly one of match and notmatch must be set",
				}
			}
			if rule.Mailet == "" {
				return &ValidationError{Field: ruleField + ".mailet", Message: "mailet is required"}
			}
			switch rule.OnError {
			case "", constants.OnErrorPropagate, constants.OnErrorIgnore, constants.OnErrorAbort:
			default:
				return &ValidationError{
					Field:   ruleField + ".on_error",
					Message: fmt.Sprintf("invalid on_error value: %s (valid: propagate, ignore, abort)", rule.OnError),
				}
			}
		}
	}

	if !seen[constants.StateRoot] {
		return &ValidationError{
			Field:   "pipeline.processors",
			Message: fmt.Sprintf("a %q processor is required", constants.StateRoot),
		}
	}

	return nil
}
