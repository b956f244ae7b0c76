package engine

import (
	"context"
	"fmt"

	"mailflow/pkg/models"
)

// Composite is a matcher aggregating child matchers. Children are added by
// the loader once each of them is fully built.
type Composite interface {
	Matcher
	Add(child Matcher)
	Children() []Matcher
	Validate() error
}

type composite struct {
	kind     string
	children []Matcher
}

func (c *composite) Add(child Matcher) {
	c.children = append(c.children, child)
}

func (c *composite) Children() []Matcher {
	return c.children
}

func (c *composite) Validate() error {
	if len(c.children) == 0 {
		return fmt.Errorf("composite matcher %s requires at least one child", c.kind)
	}
	return nil
}

// results evaluates every child against the mail, restricted to the
// mail's recipients.
func (c *composite) results(ctx context.Context, mail *models.Mail) ([][]models.Address, error) {
	out := make([][]models.Address, 0, len(c.children))
	for _, child := range c.children {
		matched, err := child.Match(ctx, mail)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Intersect(matched, mail.Recipients))
	}
	return out, nil
}

// And matches recipients selected by every child.
type And struct{ composite }

// Or matches recipients selected by any child.
type Or struct{ composite }

// Not matches recipients selected by no child.
type Not struct{ composite }

// Xor matches recipients selected by an odd number of children.
type Xor struct{ composite }

func NewAnd(children ...Matcher) *And {
	return &And{composite{kind: "And", children: children}}
}

func NewOr(children ...Matcher) *Or {
	return &Or{composite{kind: "Or", children: children}}
}

func NewNot(children ...Matcher) *Not {
	return &Not{composite{kind: "Not", children: children}}
}

func NewXor(children ...Matcher) *Xor {
	return &Xor{composite{kind: "Xor", children: children}}
}

func (m *And) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	results, err := m.results(ctx, mail)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	matched := results[0]
	for _, r := range results[1:] {
		matched = models.Intersect(matched, r)
	}
	return matched, nil
}

func (m *Or) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	results, err := m.results(ctx, mail)
	if err != nil {
		return nil, err
	}
	var matched []models.Address
	for _, r := range results {
		matched = models.Union(matched, r)
	}
	return matched, nil
}

func (m *Not) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	results, err := m.results(ctx, mail)
	if err != nil {
		return nil, err
	}
	var selected []models.Address
	for _, r := range results {
		selected = models.Union(selected, r)
	}
	return models.Difference(mail.Recipients, selected), nil
}

func (m *Xor) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	results, err := m.results(ctx, mail)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range results {
		for _, addr := range r {
			counts[addr.Key()]++
		}
	}

	matched := make([]models.Address, 0, len(counts))
	for _, addr := range models.Dedupe(mail.Recipients) {
		if counts[addr.Key()]%2 == 1 {
			matched = append(matched, addr)
		}
	}
	return matched, nil
}

func registerComposites(r *Registry) {
	r.RegisterMatcher("And", func(MatcherConfig) (Matcher, error) { return NewAnd(), nil })
	r.RegisterMatcher("Or", func(MatcherConfig) (Matcher, error) { return NewOr(), nil })
	r.RegisterMatcher("Not", func(MatcherConfig) (Matcher, error) { return NewNot(), nil })
	r.RegisterMatcher("Xor", func(MatcherConfig) (Matcher, error) { return NewXor(), nil })
}
