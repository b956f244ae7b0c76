package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckerRegistryStatus(t *testing.T) {
	ok := NewFuncChecker("router", false, func(ctx context.Context) error { return nil })
	optionalDown := NewFuncChecker("archive", true, func(ctx context.Context) error { return errors.New("down") })
	requiredDown := NewFuncChecker("spool", false, func(ctx context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"all healthy", []Checker{ok}, StatusHealthy},
		{"optional failure degrades", []Checker{ok, optionalDown}, StatusDegraded},
		{"required failure wins", []Checker{optionalDown, requiredDown}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewCheckerRegistry()
			for _, c := range tt.checkers {
				registry.Register(c)
			}

			result := registry.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Len(t, result.Checks, len(tt.checkers))
		})
	}
}

func TestCheckerRegistryBoundsSlowChecks(t *testing.T) {
	registry := NewCheckerRegistry()
	registry.Register(NewFuncChecker("stuck", false, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	registry.Register(NewFuncChecker("router", false, func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := registry.Check(ctx)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, StatusHealthy, result.Checks["router"].Status)
	assert.Contains(t, result.Checks["stuck"].Message, "deadline exceeded")
}
