package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
	"mailflow/pkg/tracing"
)

// Detector remembers which (message, recipient) pairs were already seen
// within the TTL.
type Detector struct {
	store   Store
	hasher  *Hasher
	ttl     time.Duration
	onError string
	logger  logger.Logger
}

func NewDetector(store Store, cfg config.DuplicateConfig, log logger.Logger) *Detector {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	onError := strings.ToLower(cfg.OnRedisError)
	if onError == "" {
		onError = constants.FallbackAllow
	}
	if log == nil {
		log = logger.NopLogger()
	}

	return &Detector{
		store:   store,
		hasher:  NewHasher(cfg.HashAlgorithm),
		ttl:     ttl,
		onError: onError,
		logger:  log,
	}
}

// IsDuplicate records the pair and reports whether it had been recorded
// before. When the store fails the configured fallback decides: "allow"
// treats the mail as new, "deny" as a duplicate and "error" returns the
// failure.
func (d *Detector) IsDuplicate(ctx context.Context, mail *models.Mail, recipient models.Address) (bool, error) {
	ctx, span := tracing.GetTracer("mailflow-duplicate").Start(ctx, "duplicate.check")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := constants.CacheKeyPrefixDuplicate + d.hasher.Fingerprint(mail, recipient)
	created, err := d.store.SetNX(ctx, key, mail.ID, d.ttl)
	if err != nil {
		return d.handleStoreError(ctx, err, mail.ID)
	}

	if created {
		metrics.IncDuplicateCheck("unique")
		return false, nil
	}
	metrics.IncDuplicateCheck("duplicate")
	return true, nil
}

func (d *Detector) handleStoreError(ctx context.Context, err error, mailID string) (bool, error) {
	metrics.IncDuplicateCheck("error")

	switch d.onError {
	case constants.FallbackAllow:
		metrics.FallbackUsageTotal.WithLabelValues("duplicate", "allow_on_error", "store_unavailable").Inc()
		d.logger.WarnwCtx(ctx, "Duplicate store unavailable, treating mail as new", "error", err)
		return false, nil
	case constants.FallbackDeny:
		metrics.FallbackUsageTotal.WithLabelValues("duplicate", "deny_on_error", "store_unavailable").Inc()
		d.logger.WarnwCtx(ctx, "Duplicate store unavailable, treating mail as duplicate", "error", err)
		return true, nil
	default:
		return false, fmt.Errorf("duplicate check for mail %s: %w", mailID, err)
	}
}
