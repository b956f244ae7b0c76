package engine

import (
	"context"
	"errors"
	"sync"

	"mailflow/pkg/models"
)

func addrs(values ...string) []models.Address {
	out := make([]models.Address, 0, len(values))
	for _, v := range values {
		out = append(out, models.MustParseAddress(v))
	}
	return out
}

func newMail(state string, recipients ...string) *models.Mail {
	return models.NewMailBuilder().
		WithID("mail-" + state).
		WithSender("sender@example.org").
		WithRecipients(recipients...).
		WithText("subject", "body").
		WithState(state).
		Build()
}

// staticMatcher matches a fixed set of recipients and counts calls.
type staticMatcher struct {
	mu      sync.Mutex
	matches []models.Address
	calls   int
}

func matchOnly(values ...string) *staticMatcher {
	return &staticMatcher{matches: addrs(values...)}
}

func (m *staticMatcher) Match(_ context.Context, mail *models.Mail) ([]models.Address, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return models.Intersect(mail.Recipients, m.matches), nil
}

func (m *staticMatcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var matchAll = MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
	return mail.Recipients, nil
})

var failingMatcher = MatcherFunc(func(context.Context, *models.Mail) ([]models.Address, error) {
	return nil, errors.New("lookup failed")
})

// recordingMailet remembers the recipients of every invocation.
type recordingMailet struct {
	mu    sync.Mutex
	seen  [][]models.Address
	apply func(mail *models.Mail) error
}

func (m *recordingMailet) Service(_ context.Context, mail *models.Mail) error {
	m.mu.Lock()
	m.seen = append(m.seen, append([]models.Address(nil), mail.Recipients...))
	m.mu.Unlock()
	if m.apply != nil {
		return m.apply(mail)
	}
	return nil
}

func (m *recordingMailet) Invocations() [][]models.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

func routeTo(state string) Mailet {
	return MailetFunc(func(_ context.Context, mail *models.Mail) error {
		mail.SetState(state)
		return nil
	})
}

func setAttr(name string, value interface{}) Mailet {
	return MailetFunc(func(_ context.Context, mail *models.Mail) error {
		mail.Attributes.Set(name, value)
		return nil
	})
}

var noop = MailetFunc(func(context.Context, *models.Mail) error { return nil })

func rule(m Matcher, name string, mailet Mailet, policy ErrorPolicy) *Rule {
	return &Rule{MatcherName: name, Matcher: m, MailetName: "test", Mailet: mailet, OnError: policy}
}
