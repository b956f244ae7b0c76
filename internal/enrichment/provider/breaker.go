package provider

import (
	"context"

	"mailflow/internal/config"
	"mailflow/pkg/circuitbreaker"
)

type breakerProvider struct {
	provider DataProvider
	cb       *circuitbreaker.Wrapper
}

// WithCircuitBreaker guards p with a breaker named after the source type.
// Missing records count as successful calls.
func WithCircuitBreaker(p DataProvider, name string, cfg config.CircuitBreakerConfig) DataProvider {
	cb := circuitbreaker.FromOptions("enrich-"+name, cfg.Options(), ErrNotFound)
	if cb == nil {
		return p
	}
	return &breakerProvider{provider: p, cb: cb}
}

func (p *breakerProvider) Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error) {
	return circuitbreaker.Execute(ctx, p.cb, func() (map[string]interface{}, error) {
		return p.provider.Fetch(ctx, source, key)
	})
}
