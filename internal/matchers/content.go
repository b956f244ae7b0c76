package matchers

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

func newHasAttribute(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	names := splitList(cfg.Condition)

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		for _, name := range names {
			if mail.Attributes.Has(name) {
				return true, nil
			}
		}
		return false, nil
	}), nil
}

// newHasHeader accepts "Name" or "Name:value"; the value comparison is
// case-insensitive and any occurrence of the header may match.
func newHasHeader(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	name, value, withValue := strings.Cut(cfg.Condition, ":")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		if mail.Content == nil {
			return false, nil
		}
		fields := mail.Content.Header.FieldsByKey(name)
		for fields.Next() {
			if !withValue || strings.EqualFold(strings.TrimSpace(fields.Value()), value) {
				return true, nil
			}
		}
		return false, nil
	}), nil
}

// newSizeGreaterThan takes a size such as "10k", "2MB" or "512KiB".
// Single-letter suffixes are binary multiples.
func newSizeGreaterThan(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	limit, err := parseSize(cfg.Condition)
	if err != nil {
		return nil, fmt.Errorf("SizeGreaterThan: %w", err)
	}

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		return mail.Size() > limit, nil
	}), nil
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		s = s[:len(s)-1] + "KiB"
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		s = s[:len(s)-1] + "MiB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// newRelayLimit matches mail that went through at least n relays, counted
// by its Received headers.
func newRelayLimit(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	limit, err := strconv.Atoi(strings.TrimSpace(cfg.Condition))
	if err != nil || limit < 1 {
		return nil, fmt.Errorf("RelayLimit: invalid hop count %q", cfg.Condition)
	}

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		if mail.Content == nil {
			return false, nil
		}
		hops := 0
		fields := mail.Content.Header.FieldsByKey("Received")
		for fields.Next() {
			hops++
		}
		return hops >= limit, nil
	}), nil
}

func newBodyContains(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	needle := []byte(strings.ToLower(cfg.Condition))

	return engine.MailMatcher(func(_ context.Context, mail *models.Mail) (bool, error) {
		if mail.Content == nil {
			return false, nil
		}
		text, err := mail.Content.TextBody()
		if err != nil {
			return false, fmt.Errorf("reading body: %w", err)
		}
		return bytes.Contains(bytes.ToLower([]byte(text)), needle), nil
	}), nil
}
