package deduplication

import (
	"context"
	"time"

	"mailflow/internal/config"
	"mailflow/pkg/circuitbreaker"
)

// BreakerStore guards a Store with a circuit breaker.
type BreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewBreakerStore(store Store, cfg config.CircuitBreakerConfig) *BreakerStore {
	return &BreakerStore{
		store: store,
		cb:    circuitbreaker.FromOptions("redis-duplicate", cfg.Options()),
	}
}

func (s *BreakerStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return circuitbreaker.Execute(ctx, s.cb, func() (bool, error) {
		return s.store.SetNX(ctx, key, value, ttl)
	})
}

func (s *BreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}
