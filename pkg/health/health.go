package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// OptionalChecker marks a dependency whose failure degrades the service
// instead of making it unhealthy.
type OptionalChecker interface {
	Checker
	Optional() bool
}

func isOptional(c Checker) bool {
	o, ok := c.(OptionalChecker)
	return ok && o.Optional()
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker concurrently, each bounded by checkTimeout.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	var mu sync.Mutex
	results := make(map[string]CheckResult, len(r.checkers))

	var g errgroup.Group
	for _, checker := range r.checkers {
		g.Go(func() error {
			result := run(ctx, checker)
			mu.Lock()
			results[checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func run(ctx context.Context, checker Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	result := CheckResult{Latency: time.Since(start), Timestamp: time.Now()}

	switch {
	case err == nil:
		result.Status = StatusHealthy
	case isOptional(checker):
		result.Status = StatusDegraded
		result.Message = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// FuncChecker adapts a closure. The store checkers below are all
// FuncCheckers.
type FuncChecker struct {
	name     string
	optional bool
	fn       func(ctx context.Context) error
}

func NewFuncChecker(name string, optional bool, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, optional: optional, fn: fn}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) Optional() bool {
	return c.optional
}

func (c *FuncChecker) Check(ctx context.Context) error {
	return c.fn(ctx)
}

func NewPostgreSQLChecker(db *sql.DB) *FuncChecker {
	return NewFuncChecker("postgresql", false, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	})
}

func NewRedisChecker(client *redis.Client) *FuncChecker {
	return NewFuncChecker("redis", false, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

func NewMongoDBChecker(client *mongo.Client) *FuncChecker {
	return NewFuncChecker("mongodb", false, func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	})
}

// NewS3Checker is optional: archiving is best effort.
func NewS3Checker(client *minio.Client, bucket string) *FuncChecker {
	return NewFuncChecker("s3", true, func(ctx context.Context) error {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("s3 bucket check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("s3 bucket %q does not exist", bucket)
		}
		return nil
	})
}
