package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/constants"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

func mustRouter(t *testing.T, processors []*Processor, opts ...RouterOption) *Router {
	t.Helper()
	r, err := NewRouter(processors, opts...)
	require.NoError(t, err)
	return r
}

func TestNewRouterRequiresRoot(t *testing.T) {
	_, err := NewRouter([]*Processor{NewProcessor("transport", nil, nil)})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestNewRouterRejectsReservedAndDuplicateNames(t *testing.T) {
	_, err := NewRouter([]*Processor{
		NewProcessor(constants.StateRoot, nil, nil),
		NewProcessor(constants.StateGhost, nil, nil),
	})
	assert.True(t, apperrors.IsConfig(err))

	_, err = NewRouter([]*Processor{
		NewProcessor(constants.StateRoot, nil, nil),
		NewProcessor(constants.StateRoot, nil, nil),
	})
	assert.True(t, apperrors.IsConfig(err))
}

func TestDefaultMaxVisits(t *testing.T) {
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, nil, nil),
		NewProcessor(constants.StateError, nil, nil),
	})
	assert.Equal(t, 2, r.MaxVisits())

	r = mustRouter(t, []*Processor{NewProcessor(constants.StateRoot, nil, nil)}, WithMaxVisits(10))
	assert.Equal(t, 10, r.MaxVisits())
}

func TestDispatchRootToGhost(t *testing.T) {
	rec := &recordingMailet{}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", routeTo("transport"), PolicyPropagate)}, nil),
		NewProcessor("transport", []*Rule{rule(matchAll, "All", rec, PolicyPropagate)}, nil),
	})

	mail := newMail("", "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Len(t, rec.Invocations(), 1)
	assert.Empty(t, r.InFlight())
}

func TestDispatchTerminatesOnPingPong(t *testing.T) {
	before := testutil.ToFloat64(metrics.RoutingLoopsTotal)

	visits := 0
	count := func(next string) Mailet {
		return MailetFunc(func(_ context.Context, mail *models.Mail) error {
			visits++
			mail.SetState(next)
			return nil
		})
	}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", count("a"), PolicyPropagate)}, nil),
		NewProcessor("a", []*Rule{rule(matchAll, "All", count("b"), PolicyPropagate)}, nil),
		NewProcessor("b", []*Rule{rule(matchAll, "All", count("a"), PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.LessOrEqual(t, visits, len(r.ProcessorNames()))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RoutingLoopsTotal))
}

func TestTwoProcessorPingPongVisitsEachOnce(t *testing.T) {
	visits := 0
	bounce := func(next string) Mailet {
		return MailetFunc(func(_ context.Context, mail *models.Mail) error {
			visits++
			mail.SetState(next)
			return nil
		})
	}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", bounce("a"), PolicyPropagate)}, nil),
		NewProcessor("a", []*Rule{rule(matchAll, "All", bounce(constants.StateRoot), PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Equal(t, 2, visits)
}

func TestSelfRoutingHitsLoopGuard(t *testing.T) {
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", routeTo(constants.StateRoot), PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
}

func TestDispatchIsIdempotentOnGhost(t *testing.T) {
	r := mustRouter(t, []*Processor{NewProcessor(constants.StateRoot, nil, nil)})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))
	require.Equal(t, constants.StateGhost, mail.State)

	err := r.Dispatch(context.Background(), mail)
	assert.ErrorIs(t, err, ErrAlreadyGhost)
	assert.True(t, apperrors.IsRejected(err))
}

func TestDispatchRejectsMailWithoutID(t *testing.T) {
	r := mustRouter(t, []*Processor{NewProcessor(constants.StateRoot, nil, nil)})

	mail := newMail(constants.StateRoot, "a@example.com")
	mail.ID = ""
	assert.ErrorIs(t, r.Dispatch(context.Background(), mail), ErrInvalidMail)
}

func TestDispatchRefusesConcurrentDispatchOfSameMail(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := MailetFunc(func(context.Context, *models.Mail) error {
		close(entered)
		<-release
		return nil
	})

	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", blocking, PolicyPropagate)}, nil),
	})

	first := newMail(constants.StateRoot, "a@example.com")
	done := make(chan error, 1)
	go func() { done <- r.Dispatch(context.Background(), first) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first dispatch never reached the mailet")
	}

	assert.Equal(t, []string{first.ID}, r.InFlight())

	second := newMail(constants.StateRoot, "a@example.com")
	assert.ErrorIs(t, r.Dispatch(context.Background(), second), ErrInFlight)
	assert.Equal(t, constants.StateRoot, second.State)

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, r.InFlight())
}

func TestDispatchDistinctMailsConcurrently(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", MailetFunc(func(_ context.Context, mail *models.Mail) error {
			mu.Lock()
			seen[mail.ID]++
			mu.Unlock()
			return nil
		}), PolicyPropagate)}, nil),
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mail := newMail(constants.StateRoot, "a@example.com")
			mail.ID = string(rune('a'+i)) + "-mail"
			assert.NoError(t, r.Dispatch(context.Background(), mail))
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestUnknownProcessorGoesToErrorOnce(t *testing.T) {
	before := testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("unknown_processor"))

	errorRec := &recordingMailet{}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", routeTo("nowhere"), PolicyPropagate)}, nil),
		NewProcessor(constants.StateError, []*Rule{rule(matchAll, "All", errorRec, PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Len(t, errorRec.Invocations(), 1)
	assert.Contains(t, mail.ErrorMessage, "nowhere")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("unknown_processor")))
}

func TestMissingErrorProcessorGhostsMail(t *testing.T) {
	before := testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("missing_error_processor"))

	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{
			rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("broken") }), PolicyPropagate),
		}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))

	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Contains(t, mail.ErrorMessage, "broken")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("missing_error_processor")))
}

func TestErrorProcessorRoutingToUnknownGhosts(t *testing.T) {
	misrouted := metrics.ConfigErrorsTotal.WithLabelValues("error_processor_misrouted")
	missing := metrics.ConfigErrorsTotal.WithLabelValues("missing_error_processor")
	beforeMisrouted := testutil.ToFloat64(misrouted)
	beforeMissing := testutil.ToFloat64(missing)

	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", routeTo("nowhere"), PolicyPropagate)}, nil),
		NewProcessor(constants.StateError, []*Rule{rule(matchAll, "All", routeTo("also-nowhere"), PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Equal(t, beforeMisrouted+1, testutil.ToFloat64(misrouted))
	assert.Equal(t, beforeMissing, testutil.ToFloat64(missing))
}

func TestUnknownStateWithoutErrorProcessorGhosts(t *testing.T) {
	before := testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("missing_error_processor"))

	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", routeTo("nowhere"), PolicyPropagate)}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))
	assert.Equal(t, constants.StateGhost, mail.State)
	assert.Contains(t, mail.ErrorMessage, "nowhere")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ConfigErrorsTotal.WithLabelValues("missing_error_processor")))
}

func TestFailingMailetReachesErrorProcessor(t *testing.T) {
	var captured string
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{
			rule(matchAll, "All", MailetFunc(func(context.Context, *models.Mail) error { return errors.New("smtp down") }), PolicyPropagate),
		}, nil),
		NewProcessor(constants.StateError, []*Rule{
			rule(matchAll, "All", MailetFunc(func(_ context.Context, mail *models.Mail) error {
				captured = mail.ErrorMessage
				mail.SetState(constants.StateGhost)
				return nil
			}), PolicyPropagate),
		}, nil),
	})

	mail := newMail(constants.StateRoot, "a@example.com")
	require.NoError(t, r.Dispatch(context.Background(), mail))
	assert.Contains(t, captured, "smtp down")
}

func TestDispatchHonoursCancelledContext(t *testing.T) {
	rec := &recordingMailet{}
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{rule(matchAll, "All", rec, PolicyPropagate)}, nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mail := newMail(constants.StateRoot, "a@example.com")
	err := r.Dispatch(ctx, mail)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Invocations())
	assert.Equal(t, constants.StateRoot, mail.State)
	assert.Empty(t, r.InFlight())
}

func TestProcessorsDescribeRules(t *testing.T) {
	r := mustRouter(t, []*Processor{
		NewProcessor(constants.StateRoot, []*Rule{
			{MatcherName: "All", Matcher: matchAll, MailetName: "ToProcessor", Mailet: noop, OnError: PolicyIgnore},
		}, nil),
		NewProcessor(constants.StateError, nil, nil),
	})

	infos := r.Processors()
	require.Len(t, infos, 2)
	assert.Equal(t, constants.StateRoot, infos[0].Name)
	require.Len(t, infos[0].Rules, 1)
	assert.Equal(t, "All", infos[0].Rules[0].Matcher)
	assert.Equal(t, "ToProcessor", infos[0].Rules[0].Mailet)
	assert.Equal(t, constants.OnErrorIgnore, infos[0].Rules[0].OnError)
	assert.Equal(t, []string{constants.StateRoot, constants.StateError}, r.ProcessorNames())
}
