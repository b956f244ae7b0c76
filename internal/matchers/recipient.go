package matchers

import (
	"context"
	"fmt"
	"strings"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

// splitList parses a comma or whitespace separated condition.
func splitList(condition string) []string {
	fields := strings.FieldsFunc(condition, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func domainSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return set
}

func requireCondition(cfg engine.MatcherConfig) error {
	if strings.TrimSpace(cfg.Condition) == "" {
		return fmt.Errorf("%s requires a condition", cfg.Name)
	}
	return nil
}

func newAll(engine.MatcherConfig) (engine.Matcher, error) {
	return engine.MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
		return mail.Recipients, nil
	}), nil
}

func newRecipientIs(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	wanted, err := models.ParseAddresses(splitList(cfg.Condition))
	if err != nil {
		return nil, fmt.Errorf("RecipientIs: %w", err)
	}

	return engine.MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
		return models.Intersect(mail.Recipients, wanted), nil
	}), nil
}

func newHostIs(cfg engine.MatcherConfig) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}
	return hostIn(domainSet(splitList(cfg.Condition))), nil
}

func newHostIsLocal(_ engine.MatcherConfig, deps Deps) (engine.Matcher, error) {
	if len(deps.LocalDomains) == 0 {
		return nil, fmt.Errorf("HostIsLocal requires engine.local_domains")
	}
	return hostIn(domainSet(deps.LocalDomains)), nil
}

func hostIn(domains map[string]struct{}) engine.Matcher {
	return engine.RecipientMatcher(func(_ context.Context, _ *models.Mail, r models.Address) (bool, error) {
		_, ok := domains[r.Domain]
		return ok, nil
	})
}

// newRecipientIsLocal matches recipients in a local domain that also have a
// mailbox in the user directory.
func newRecipientIsLocal(_ engine.MatcherConfig, deps Deps) (engine.Matcher, error) {
	if len(deps.LocalDomains) == 0 {
		return nil, fmt.Errorf("RecipientIsLocal requires engine.local_domains")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("RecipientIsLocal requires a user directory")
	}
	domains := domainSet(deps.LocalDomains)

	return engine.RecipientMatcher(func(ctx context.Context, _ *models.Mail, r models.Address) (bool, error) {
		if _, ok := domains[r.Domain]; !ok {
			return false, nil
		}
		exists, err := deps.Directory.Exists(ctx, r)
		if err != nil {
			return false, fmt.Errorf("user directory lookup for %s: %w", r, err)
		}
		return exists, nil
	}), nil
}
