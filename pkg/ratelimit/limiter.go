package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailflow/pkg/metrics"
)

type Config struct {
	RPS   float64
	Burst int
	// Buckets idle for longer than MaxAge are dropped, checked at most
	// once per CleanupInterval. Zero keeps buckets forever.
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed holds one token bucket per key (client IP, sender address).
type Keyed struct {
	scope  string
	config Config
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewKeyed creates a bucket set; scope labels its metrics.
func NewKeyed(scope string, config Config) *Keyed {
	if config.Burst < 1 {
		config.Burst = 1
	}
	return &Keyed{
		scope:     scope,
		config:    config,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// Allow takes a token from the key's bucket.
func (k *Keyed) Allow(key string) bool {
	allowed, _ := k.take(key)
	return allowed
}

func (k *Keyed) take(key string) (bool, int) {
	k.mu.Lock()
	now := k.now()
	k.sweep(now)

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(k.config.RPS), k.config.Burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	status := "allowed"
	if !allowed {
		status = "limited"
	}
	metrics.RateLimitRequestsTotal.WithLabelValues(k.scope, status).Inc()
	return allowed, remaining
}

// Len reports the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) sweep(now time.Time) {
	if k.config.MaxAge <= 0 || now.Sub(k.lastSweep) < k.config.CleanupInterval {
		return
	}
	k.lastSweep = now
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) > k.config.MaxAge {
			delete(k.buckets, key)
		}
	}
}
