package matchers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
	"mailflow/pkg/ratelimit"
)

func newSenderIs(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	senders, err := models.ParseAddresses(splitList(cfg.Condition))
	if err != nil {
		return nil, fmt.Errorf("SenderIs: %w", err)
	}

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		return mail.HasSender() && models.Contains(senders, *mail.Sender), nil
	}), nil
}

func newSenderIsNull(engine.MatcherConfig) (engine.Matcher, error) {
	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		return !mail.HasSender(), nil
	}), nil
}

func newSenderHostIs(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	domains := domainSet(splitList(cfg.Condition))

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		if !mail.HasSender() {
			return false, nil
		}
		_, ok := domains[mail.Sender.Domain]
		return ok, nil
	}), nil
}

// senderRate matches every recipient of a mail whose sender exceeded its
// token bucket. Buckets live for the lifetime of the router.
type senderRate struct {
	limits *ratelimit.Keyed
}

// newSenderRateExceeded parses "rps" or "rps/burst".
func newSenderRateExceeded(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}

	rpsText, burstText, hasBurst := strings.Cut(cfg.Condition, "/")
	rps, err := strconv.ParseFloat(strings.TrimSpace(rpsText), 64)
	if err != nil || rps <= 0 {
		return nil, fmt.Errorf("SenderRateExceeded: invalid rate %q", rpsText)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	if hasBurst {
		burst, err = strconv.Atoi(strings.TrimSpace(burstText))
		if err != nil || burst < 1 {
			return nil, fmt.Errorf("SenderRateExceeded: invalid burst %q", burstText)
		}
	}

	limits := ratelimit.DefaultConfig()
	limits.RPS, limits.Burst = rps, burst
	// A bucket refills completely within 1/rps*burst; keep it at least that long.
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > limits.MaxAge {
		limits.MaxAge = refill
	}
	return &senderRate{limits: ratelimit.NewKeyed("sender", limits)}, nil
}

func (m *senderRate) Match(_ context.Context, mail *models.Mail) ([]models.Address, error) {
	if m.limits.Allow(mail.SenderString()) {
		return nil, nil
	}
	return mail.Recipients, nil
}
