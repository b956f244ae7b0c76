package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/constants"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

func TestLoopGuardGhostsMailNobodyRouted(t *testing.T) {
	before := testutil.ToFloat64(metrics.LoopGuardTriggersTotal.WithLabelValues("stuck"))

	rec := &recordingMailet{}
	p := NewProcessor("stuck", []*Rule{
		rule(matchAll, "All", rec, PolicyPropagate),
		rule(matchAll, "All", rec, PolicyPropagate),
	}, nil)

	mail := newMail("stuck", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Len(t, rec.Invocations(), 2)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LoopGuardTriggersTotal.WithLabelValues("stuck")))
}

func TestLoopGuardInErrorProcessorIsSilent(t *testing.T) {
	before := testutil.ToFloat64(metrics.LoopGuardTriggersTotal.WithLabelValues(constants.StateError))

	p := NewProcessor(constants.StateError, []*Rule{rule(matchAll, "All", noop, PolicyPropagate)}, nil)
	mail := newMail(constants.StateError, "a@example.com")

	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Equal(t, before, testutil.ToFloat64(metrics.LoopGuardTriggersTotal.WithLabelValues(constants.StateError)))
}

func TestRuleOrderLastRuleWins(t *testing.T) {
	p := NewProcessor("order", []*Rule{
		rule(matchOnly("a@example.com"), "R1", setAttr("shared", "r1"), PolicyPropagate),
		rule(matchOnly("nobody@example.com"), "R2", setAttr("shared", "r2"), PolicyPropagate),
		rule(matchOnly("a@example.com"), "R3", setAttr("shared", "r3"), PolicyPropagate),
	}, nil)

	mail := newMail("order", "a@example.com", "b@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	value, ok := mail.Attributes.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "r3", value)
	assert.Equal(t, "R3", mail.Attributes.LastMatcher)
}

func TestSplitJoinRunsMailetOnMatchedSubsetOnly(t *testing.T) {
	rec := &recordingMailet{apply: func(mail *models.Mail) error {
		// replace c by d inside the matched view
		mail.Recipients = models.Union(models.Difference(mail.Recipients, addrs("c@example.com")), addrs("d@example.com"))
		mail.Attributes.Set("touched", true)
		return nil
	}}

	after := &recordingMailet{}
	p := NewProcessor("split", []*Rule{
		rule(matchOnly("a@example.com", "c@example.com"), "AC", rec, PolicyPropagate),
		rule(matchAll, "All", after, PolicyPropagate),
	}, nil)

	mail := newMail("split", "a@example.com", "b@example.com", "c@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	require.Len(t, rec.Invocations(), 1)
	assert.ElementsMatch(t, addrs("a@example.com", "c@example.com"), rec.Invocations()[0])

	require.Len(t, after.Invocations(), 1)
	assert.ElementsMatch(t, addrs("a@example.com", "d@example.com", "b@example.com"), after.Invocations()[0])
	assert.True(t, mail.Attributes.Has("touched"))
}

func TestEmptyMatchSkipsMailet(t *testing.T) {
	rec := &recordingMailet{}
	p := NewProcessor("skip", []*Rule{rule(matchOnly("x@example.com"), "X", rec, PolicyPropagate)}, nil)

	mail := newMail("skip", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Empty(t, rec.Invocations())
	assert.Equal(t, addrs("a@example.com"), mail.Recipients)
}

func TestGhostedViewKeepsUnmatchedRecipients(t *testing.T) {
	next := &recordingMailet{}
	p := NewProcessor("drop", []*Rule{
		rule(matchOnly("a@example.com"), "A", routeTo(constants.StateGhost), PolicyPropagate),
		rule(matchAll, "All", next, PolicyPropagate),
	}, nil)

	mail := newMail("drop", "a@example.com", "b@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	require.Len(t, next.Invocations(), 1)
	assert.Equal(t, addrs("b@example.com"), next.Invocations()[0])
}

func TestMatchedViewStateWinsOnJoin(t *testing.T) {
	p := NewProcessor("route", []*Rule{
		rule(matchOnly("a@example.com"), "A", routeTo("elsewhere"), PolicyPropagate),
	}, nil)

	mail := newMail("route", "a@example.com", "b@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	assert.Equal(t, "elsewhere", mail.State)
	assert.ElementsMatch(t, addrs("a@example.com", "b@example.com"), mail.Recipients)
}

func TestIgnorePolicyLeavesMailUntouched(t *testing.T) {
	failing := MailetFunc(func(_ context.Context, mail *models.Mail) error {
		mail.Recipients = nil
		mail.SetState("somewhere")
		mail.Attributes.Set("half-done", true)
		return errors.New("boom")
	})
	next := &recordingMailet{}

	p := NewProcessor("ignore", []*Rule{
		rule(matchAll, "All", failing, PolicyIgnore),
		rule(matchAll, "All", next, PolicyPropagate),
	}, nil)

	mail := newMail("ignore", "a@example.com", "b@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	require.Len(t, next.Invocations(), 1, "subsequent rules still run")
	assert.ElementsMatch(t, addrs("a@example.com", "b@example.com"), next.Invocations()[0])
	assert.False(t, mail.Attributes.Has("half-done"))
	assert.Empty(t, mail.ErrorMessage)
}

func TestPropagatePolicyMovesMailToError(t *testing.T) {
	next := &recordingMailet{}
	p := NewProcessor("propagate", []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("disk full") }), PolicyPropagate),
		rule(matchAll, "All", next, PolicyPropagate),
	}, nil)

	mail := newMail("propagate", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	assert.Equal(t, constants.StateError, mail.State)
	assert.Contains(t, mail.ErrorMessage, "disk full")
	assert.Empty(t, next.Invocations())
}

func TestAbortPolicyGhostsMail(t *testing.T) {
	p := NewProcessor("abort", []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("nope") }), PolicyAbort),
	}, nil)

	mail := newMail("abort", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
}

func TestMatcherFailureUsesRulePolicy(t *testing.T) {
	rec := &recordingMailet{}
	p := NewProcessor("matcherfail", []*Rule{
		rule(failingMatcher, "Broken", rec, PolicyIgnore),
		rule(matchAll, "All", routeTo("next"), PolicyPropagate),
	}, nil)

	mail := newMail("matcherfail", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Empty(t, rec.Invocations())
	assert.Equal(t, "next", mail.State)

	p = NewProcessor("matcherfail", []*Rule{rule(failingMatcher, "Broken", rec, PolicyPropagate)}, nil)
	mail = newMail("matcherfail", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateError, mail.State)
	assert.Contains(t, mail.ErrorMessage, "lookup failed")
}

func TestErrorPolicyOverrideAttribute(t *testing.T) {
	p := NewProcessor("override", []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("x") }), PolicyPropagate),
	}, nil)

	mail := newMail("override", "a@example.com")
	mail.Attributes.OnErrorOverride = constants.OnErrorAbort
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
}

func TestFailureInErrorProcessorIsNotEscalated(t *testing.T) {
	p := NewProcessor(constants.StateError, []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("cannot store") }), PolicyPropagate),
	}, nil)

	mail := newMail(constants.StateError, "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
}

func TestPanickingMailetIsContained(t *testing.T) {
	p := NewProcessor("panic", []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { panic("nil map") }), PolicyPropagate),
	}, nil)

	mail := newMail("panic", "a@example.com")
	require.NotPanics(t, func() {
		require.NoError(t, p.Service(context.Background(), mail))
	})
	assert.Equal(t, constants.StateError, mail.State)
	assert.Contains(t, mail.ErrorMessage, "nil map")
}

func TestPanickingMatcherIsContained(t *testing.T) {
	panicky := MatcherFunc(func(context.Context, *models.Mail) ([]models.Address, error) { panic("bad matcher") })
	p := NewProcessor("panic", []*Rule{rule(panicky, "Panicky", noop, PolicyAbort)}, nil)

	mail := newMail("panic", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
}

func TestMatcherCannotAddRecipients(t *testing.T) {
	extra := MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
		return append(mail.Recipients, addrs("intruder@example.com")...), nil
	})
	rec := &recordingMailet{}
	p := NewProcessor("guard", []*Rule{rule(extra, "Extra", rec, PolicyPropagate)}, nil)

	mail := newMail("guard", "a@example.com")
	require.NoError(t, p.Service(context.Background(), mail))
	require.Len(t, rec.Invocations(), 1)
	assert.Equal(t, addrs("a@example.com"), rec.Invocations()[0])
}

func TestCancellationBetweenRules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recordingMailet{}
	p := NewProcessor("cancel", []*Rule{
		rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { cancel(); return nil }), PolicyPropagate),
		rule(matchAll, "All", rec, PolicyPropagate),
	}, nil)

	mail := newMail("cancel", "a@example.com")
	err := p.Service(ctx, mail)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Invocations())
	assert.Equal(t, "cancel", mail.State)
}

func TestTransportScenario(t *testing.T) {
	headers := &recordingMailet{apply: func(mail *models.Mail) error {
		c := mail.Content.Clone()
		c.Header.Add("X-Transport", "seen")
		mail.Content = c
		return nil
	}}
	local := MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
		var out []models.Address
		for _, r := range mail.Recipients {
			if r.Domain == "example.com" {
				out = append(out, r)
			}
		}
		return out, nil
	})

	var evaluations []string
	counted := func(name string, m Matcher) Matcher {
		return MatcherFunc(func(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
			evaluations = append(evaluations, name)
			return m.Match(ctx, mail)
		})
	}

	p := NewProcessor("transport", []*Rule{
		rule(counted("All", matchAll), "All", headers, PolicyPropagate),
		rule(counted("HostIs", local), "HostIs=example.com", routeTo("local"), PolicyPropagate),
		rule(counted("Relay", matchAll), "All", routeTo("relay"), PolicyPropagate),
	}, nil)

	mail := newMail("transport", "bob@example.com")
	require.NoError(t, p.Service(context.Background(), mail))

	assert.Equal(t, "local", mail.State)
	assert.Equal(t, []string{"All", "HostIs"}, evaluations)
	assert.Equal(t, "seen", mail.Content.Header.Get("X-Transport"))
}
