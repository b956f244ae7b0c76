package matchers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

type directory map[string]bool

func (d directory) Exists(_ context.Context, a models.Address) (bool, error) {
	if a.Local == "broken" {
		return false, errors.New("database unavailable")
	}
	return d[a.Key()], nil
}

type seenOnce struct {
	seen map[string]bool
}

func (s *seenOnce) IsDuplicate(_ context.Context, mail *models.Mail, r models.Address) (bool, error) {
	key := mail.Content.Subject() + "|" + r.Key()
	if s.seen[key] {
		return true, nil
	}
	s.seen[key] = true
	return false, nil
}

func registry(t *testing.T, deps Deps) *engine.Registry {
	t.Helper()
	reg := engine.NewRegistry()
	Register(reg, deps)
	return reg
}

func build(t *testing.T, reg *engine.Registry, ref string) engine.Matcher {
	t.Helper()
	cfg := engine.ParseMatcherRef(ref)
	factory, ok := reg.Matcher(cfg.Name)
	require.True(t, ok, "matcher %s is not registered", cfg.Name)
	m, err := factory(cfg)
	require.NoError(t, err, ref)
	return m
}

func match(t *testing.T, m engine.Matcher, mail *models.Mail) []string {
	t.Helper()
	matched, err := m.Match(context.Background(), mail)
	require.NoError(t, err)
	return models.AddressStrings(matched)
}

func sample(sender string, recipients ...string) *models.Mail {
	return models.NewMailBuilder().
		WithID("m1").
		WithSender(sender).
		WithRecipients(recipients...).
		WithText("Quarterly report", "Please find the numbers attached.").
		WithState("root").
		Build()
}

func TestRecipientMatchers(t *testing.T) {
	reg := registry(t, Deps{
		LocalDomains: []string{"example.com", "Example.NET"},
		Directory:    directory{"bob@example.com": true},
	})
	mail := sample("alice@remote.org", "bob@example.com", "carol@example.net", "dave@remote.org")

	tests := []struct {
		ref      string
		expected []string
	}{
		{"All", []string{"bob@example.com", "carol@example.net", "dave@remote.org"}},
		{"RecipientIs=bob@example.com, dave@remote.org", []string{"bob@example.com", "dave@remote.org"}},
		{"RecipientIs=nobody@example.com", []string{}},
		{"HostIs=remote.org", []string{"dave@remote.org"}},
		{"HostIs=EXAMPLE.com,example.net", []string{"bob@example.com", "carol@example.net"}},
		{"HostIsLocal", []string{"bob@example.com", "carol@example.net"}},
		{"RecipientIsLocal", []string{"bob@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, match(t, build(t, reg, tt.ref), mail))
		})
	}
}

func TestRecipientIsLocalPropagatesLookupFailure(t *testing.T) {
	reg := registry(t, Deps{LocalDomains: []string{"example.com"}, Directory: directory{}})
	m := build(t, reg, "RecipientIsLocal")

	_, err := m.Match(context.Background(), sample("a@b.c", "broken@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestSenderMatchers(t *testing.T) {
	reg := registry(t, Deps{})
	known := sample("Alice@Remote.org", "bob@example.com", "carol@example.com")
	bounce := sample("<>", "bob@example.com")

	tests := []struct {
		ref      string
		mail     *models.Mail
		expected int
	}{
		{"SenderIs=Alice@remote.org", known, 2},
		{"SenderIs=mallory@remote.org", known, 0},
		{"SenderIs=alice@remote.org", bounce, 0},
		{"SenderIsNull", bounce, 1},
		{"SenderIsNull", known, 0},
		{"SenderHostIs=remote.org", known, 2},
		{"SenderHostIs=remote.org", bounce, 0},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Len(t, match(t, build(t, reg, tt.ref), tt.mail), tt.expected)
		})
	}
}

func TestSenderRateExceeded(t *testing.T) {
	reg := registry(t, Deps{})
	m := build(t, reg, "SenderRateExceeded=0.001/2")

	alice := sample("alice@remote.org", "bob@example.com")
	assert.Empty(t, match(t, m, alice))
	assert.Empty(t, match(t, m, alice))
	assert.Equal(t, []string{"bob@example.com"}, match(t, m, alice), "third mail exceeds the burst")

	assert.Empty(t, match(t, m, sample("eve@remote.org", "bob@example.com")), "buckets are per sender")
}

func TestContentMatchers(t *testing.T) {
	reg := registry(t, Deps{})

	mail := sample("alice@remote.org", "bob@example.com")
	mail.Attributes.Set("spam.score", 7)
	mail.Content.Header.Add("X-Spam-Flag", "YES")
	mail.Content.Header.Add("Received", "from a by b")
	mail.Content.Header.Add("Received", "from b by c")

	tests := []struct {
		ref     string
		matches bool
	}{
		{"HasAttribute=spam.score", true},
		{"HasAttribute=virus.name", false},
		{"HasHeader=X-Spam-Flag", true},
		{"HasHeader=x-spam-flag:yes", true},
		{"HasHeader=X-Spam-Flag:NO", false},
		{"HasHeader=X-Virus", false},
		{"SizeGreaterThan=10", true},
		{"SizeGreaterThan=1k", false},
		{"RelayLimit=2", true},
		{"RelayLimit=3", false},
		{"BodyContains=THE NUMBERS", true},
		{"BodyContains=invoice", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := match(t, build(t, reg, tt.ref), mail)
			if tt.matches {
				assert.Equal(t, []string{"bob@example.com"}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestBodyContainsReadsHTMLParts(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@remote.org",
		"Subject: newsletter",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Unsubscribe <b>here</b></p></body></html>",
	}, "\r\n")
	content, err := models.ParseContent([]byte(raw))
	require.NoError(t, err)

	mail := sample("alice@remote.org", "bob@example.com")
	mail.Content = content

	m := build(t, registry(t, Deps{}), "BodyContains=unsubscribe")
	assert.Len(t, match(t, m, mail), 1)
}

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"100":    100,
		"10k":    10 * 1024,
		"2M":     2 * 1024 * 1024,
		"2MB":    2 * 1000 * 1000,
		"512KiB": 512 * 1024,
	}
	for in, want := range tests {
		got, err := parseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseSize("lots")
	assert.Error(t, err)
}

func TestExpressionMatcher(t *testing.T) {
	reg := registry(t, Deps{})
	mail := sample("alice@remote.org", "bob@example.com", "carol@partner.org")
	mail.Attributes.Set("tenant", "acme")

	tests := []struct {
		ref      string
		expected []string
	}{
		{`Expression=recipient_domain == "partner.org"`, []string{"carol@partner.org"}},
		{`Expression=sender_domain == "remote.org" && size > 10`, []string{"bob@example.com", "carol@partner.org"}},
		{`Expression=headers["subject"].contains("report")`, []string{"bob@example.com", "carol@partner.org"}},
		{`Expression="tenant" in attributes && attributes["tenant"] == "acme"`, []string{"bob@example.com", "carol@partner.org"}},
		{`Expression=state == "transport"`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, match(t, build(t, reg, tt.ref), mail))
		})
	}
}

func TestIsDuplicate(t *testing.T) {
	reg := registry(t, Deps{Duplicates: &seenOnce{seen: map[string]bool{}}})
	m := build(t, reg, "IsDuplicate")

	first := sample("alice@remote.org", "bob@example.com")
	assert.Empty(t, match(t, m, first))

	again := sample("alice@remote.org", "bob@example.com", "carol@example.com")
	assert.Equal(t, []string{"bob@example.com"}, match(t, m, again))
}

func TestFactoryErrors(t *testing.T) {
	reg := registry(t, Deps{})

	for _, ref := range []string{
		"RecipientIs",
		"RecipientIs=not-an-address",
		"HostIs",
		"HostIsLocal",
		"RecipientIsLocal",
		"SenderIs",
		"SenderHostIs",
		"SenderRateExceeded=fast",
		"SenderRateExceeded=5/none",
		"HasAttribute",
		"HasHeader",
		"SizeGreaterThan=huge",
		"RelayLimit=0",
		"BodyContains",
		"Expression=size >",
		"Expression=size + 1",
		"IsDuplicate",
	} {
		t.Run(ref, func(t *testing.T) {
			cfg := engine.ParseMatcherRef(ref)
			factory, ok := reg.Matcher(cfg.Name)
			require.True(t, ok)
			_, err := factory(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRegisterIncludesComposites(t *testing.T) {
	names := registry(t, Deps{}).MatcherNames()
	for _, name := range []string{"All", "And", "Or", "Not", "Xor", "Expression", "IsDuplicate", "HostIsLocal"} {
		assert.Contains(t, names, name)
	}
}
