// Package enrichment looks up records about a mail (its sender, domain or
// any CEL-derived key) in external sources, with an optional Redis cache in
// front of them.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"lukechampine.com/blake3"

	"mailflow/internal/enrichment/provider"
	"mailflow/internal/logger"
	"mailflow/pkg/metrics"
)

const cacheKeyPrefix = "enrich:"

type Service struct {
	providers map[string]provider.DataProvider
	cache     *redis.Client
	ttl       time.Duration
	logger    logger.Logger
}

type Option func(*Service)

func WithProvider(sourceType string, p provider.DataProvider) Option {
	return func(s *Service) {
		s.providers[sourceType] = p
	}
}

// WithCache stores fetched records in Redis for ttl.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = client
		s.ttl = ttl
	}
}

func NewService(log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NopLogger()
	}
	s := &Service{
		providers: make(map[string]provider.DataProvider),
		ttl:       5 * time.Minute,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Supports(sourceType string) bool {
	_, ok := s.providers[sourceType]
	return ok
}

// Lookup returns the record stored under key. found is false when the
// source has no such record.
func (s *Service) Lookup(ctx context.Context, sourceType string, source provider.Source, key string) (data map[string]interface{}, found bool, err error) {
	p, ok := s.providers[sourceType]
	if !ok {
		return nil, false, fmt.Errorf("unknown source type: %s (provider not registered)", sourceType)
	}

	cacheKey := s.cacheKey(sourceType, source, key)
	if data, ok := s.cached(ctx, cacheKey); ok {
		metrics.IncEnrichmentLookup(sourceType, "cache_hit")
		return data, true, nil
	}

	data, err = p.Fetch(ctx, source, key)
	if errors.Is(err, provider.ErrNotFound) {
		metrics.IncEnrichmentLookup(sourceType, "not_found")
		return nil, false, nil
	}
	if err != nil {
		metrics.IncEnrichmentLookup(sourceType, "error")
		return nil, false, fmt.Errorf("%s lookup for %q failed: %w", sourceType, key, err)
	}

	metrics.IncEnrichmentLookup(sourceType, "found")
	s.store(ctx, cacheKey, data)
	return data, true, nil
}

// cacheKey hashes the source definition so two lookups with different
// sources never share an entry.
func (s *Service) cacheKey(sourceType string, source provider.Source, key string) string {
	def, _ := json.Marshal(source)
	sum := blake3.Sum256(def)
	return fmt.Sprintf("%s%s:%x:%s", cacheKeyPrefix, sourceType, sum[:8], key)
}

func (s *Service) cached(ctx context.Context, cacheKey string) (map[string]interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}

	val, err := s.cache.Get(ctx, cacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnwCtx(ctx, "Enrichment cache read failed", "cache_key", cacheKey, "error", err)
		}
		return nil, false
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to unmarshal cache value", "cache_key", cacheKey, "error", err)
		return nil, false
	}
	return data, true
}

func (s *Service) store(ctx context.Context, cacheKey string, data map[string]interface{}) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to marshal source data", "cache_key", cacheKey, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to cache enrichment data", "cache_key", cacheKey, "error", err)
	}
}
