package mailets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/models"
)

// RedisRewriteTable reads "rrt:<address>" keys holding comma separated
// replacement addresses. A key "rrt:@domain" rewrites a whole domain.
type RedisRewriteTable struct {
	client *redis.Client
	cb     *circuitbreaker.Wrapper
}

func NewRedisRewriteTable(client *redis.Client, cfg config.CircuitBreakerConfig) *RedisRewriteTable {
	return &RedisRewriteTable{
		client: client,
		cb:     circuitbreaker.FromOptions("redis-rrt", cfg.Options()),
	}
}

func (t *RedisRewriteTable) Lookup(ctx context.Context, address models.Address) ([]string, bool, error) {
	for _, key := range []string{address.Key(), "@" + address.Domain} {
		value, err := circuitbreaker.Execute(ctx, t.cb, func() (string, error) {
			v, err := t.client.Get(ctx, constants.CacheKeyPrefixRRT+key).Result()
			if errors.Is(err, redis.Nil) {
				return "", nil
			}
			return v, err
		})
		if err != nil {
			return nil, false, fmt.Errorf("rewrite table lookup for %s: %w", address, err)
		}
		if value != "" {
			return splitTargets(value, address), true, nil
		}
	}
	return nil, false, nil
}

// splitTargets expands a mapping value. A target of the form "@domain"
// keeps the local part of the original address.
func splitTargets(value string, original models.Address) []string {
	var out []string
	for _, t := range strings.Split(value, ",") {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case strings.HasPrefix(t, "@"):
			out = append(out, original.Local+t)
		default:
			out = append(out, t)
		}
	}
	return out
}

// recipientRewriteTable replaces recipients by their mapped addresses.
// Mapping chains are followed up to a fixed depth; a mapping to a local
// domain that is not expanded further stays as is.
type recipientRewriteTable struct {
	table    RewriteTable
	maxDepth int
}

func newRecipientRewriteTable(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Rewrites == nil {
		return nil, fmt.Errorf("RecipientRewriteTable requires a rewrite table (redis)")
	}
	maxDepth, err := cfg.Settings.Int("max_depth", 10)
	if err != nil {
		return nil, err
	}
	if maxDepth < 1 {
		return nil, fmt.Errorf("setting %q must be positive", "max_depth")
	}
	return &recipientRewriteTable{table: deps.Rewrites, maxDepth: maxDepth}, nil
}

func (m *recipientRewriteTable) Service(ctx context.Context, mail *models.Mail) error {
	rewritten := make([]models.Address, 0, len(mail.Recipients))
	for _, r := range mail.Recipients {
		targets, err := m.expand(ctx, r, 0)
		if err != nil {
			return err
		}
		rewritten = append(rewritten, targets...)
	}
	mail.Recipients = models.Dedupe(rewritten)
	return nil
}

func (m *recipientRewriteTable) expand(ctx context.Context, address models.Address, depth int) ([]models.Address, error) {
	if depth >= m.maxDepth {
		return nil, fmt.Errorf("rewrite of %s exceeds %d mappings", address, m.maxDepth)
	}

	targets, ok, err := m.table.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Address{address}, nil
	}

	var out []models.Address
	for _, t := range targets {
		target, err := models.ParseAddress(t)
		if err != nil {
			return nil, fmt.Errorf("rewrite of %s: %w", address, err)
		}
		if target.Equal(address) {
			out = append(out, target)
			continue
		}
		expanded, err := m.expand(ctx, target, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}
