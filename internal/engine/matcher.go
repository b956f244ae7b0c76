package engine

import (
	"context"
	"strings"

	"mailflow/pkg/models"
)

// Matcher selects the subset of a mail's recipients a rule applies to. The
// candidates are mail.Recipients; anything returned outside that set is
// dropped by the processor.
type Matcher interface {
	Match(ctx context.Context, mail *models.Mail) ([]models.Address, error)
}

type MatcherFunc func(ctx context.Context, mail *models.Mail) ([]models.Address, error)

func (f MatcherFunc) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	return f(ctx, mail)
}

// MatcherConfig is what a matcher factory receives. For a reference such as
// "HostIs=example.com" Name is "HostIs" and Condition is "example.com".
type MatcherConfig struct {
	Name      string
	Condition string
}

// ParseMatcherRef splits "Name=condition" at the first '='.
func ParseMatcherRef(ref string) MatcherConfig {
	ref = strings.TrimSpace(ref)
	name, condition, _ := strings.Cut(ref, "=")
	return MatcherConfig{Name: strings.TrimSpace(name), Condition: strings.TrimSpace(condition)}
}

func (c MatcherConfig) String() string {
	if c.Condition == "" {
		return c.Name
	}
	return c.Name + "=" + c.Condition
}

// Invert returns a matcher selecting exactly the candidates m does not.
func Invert(m Matcher) Matcher {
	return &inverted{matcher: m}
}

type inverted struct {
	matcher Matcher
}

func (i *inverted) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	matched, err := i.matcher.Match(ctx, mail)
	if err != nil {
		return nil, err
	}
	return models.Difference(mail.Recipients, matched), nil
}

// RecipientMatcher adapts a per-recipient predicate into a Matcher.
type RecipientMatcher func(ctx context.Context, mail *models.Mail, recipient models.Address) (bool, error)

func (f RecipientMatcher) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	matched := make([]models.Address, 0, len(mail.Recipients))
	for _, r := range mail.Recipients {
		ok, err := f(ctx, mail, r)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// MailMatcher adapts a whole-mail predicate: all recipients or none.
type MailMatcher func(ctx context.Context, mail *models.Mail) (bool, error)

func (f MailMatcher) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	ok, err := f(ctx, mail)
	if err != nil || !ok {
		return nil, err
	}
	return mail.Recipients, nil
}
