package management

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/broker"
	"mailflow/internal/config"
	"mailflow/internal/engine"
	"mailflow/internal/logger"
	"mailflow/internal/repository"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/models"
)

type fakePipeline struct {
	router  *engine.Router
	reloads int
	err     error
}

func (p *fakePipeline) Router() *engine.Router { return p.router }

func (p *fakePipeline) Reload(context.Context) error {
	if p.err != nil {
		return p.err
	}
	p.reloads++
	return nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	mails []*models.Mail
	err   error
}

func (s *fakeSubmitter) Submit(_ context.Context, mail *models.Mail) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mail.ID == "" {
		mail.ID = "generated"
	}
	s.mails = append(s.mails, mail)
	return mail.ID, nil
}

type fakeRepository struct {
	mu    sync.Mutex
	mails map[string]map[string]*models.Mail
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{mails: make(map[string]map[string]*models.Mail)}
}

func (r *fakeRepository) Store(_ context.Context, name string, mail *models.Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mails[name] == nil {
		r.mails[name] = make(map[string]*models.Mail)
	}
	r.mails[name][mail.ID] = mail
	return nil
}

func (r *fakeRepository) List(_ context.Context, name string, limit int) ([]repository.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Summary
	for _, m := range r.mails[name] {
		out = append(out, repository.Summary{ID: m.ID, Repository: name, State: m.State, Sender: m.SenderString()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepository) Get(_ context.Context, name, id string) (*models.Mail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mails[name][id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("id", id)
	}
	return m.Duplicate(m.ID), nil
}

func (r *fakeRepository) Delete(_ context.Context, name, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mails[name][id]; !ok {
		return apperrors.ErrNotFound.WithDetail("id", id)
	}
	delete(r.mails[name], id)
	return nil
}

func (r *fakeRepository) Count(_ context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.mails[name])), nil
}

func (r *fakeRepository) Names(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name, mails := range r.mails {
		if len(mails) > 0 {
			names = append(names, name)
		}
	}
	return names, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditLogEntry
}

func (a *fakeAudit) Record(_ context.Context, entry AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) List(_ context.Context, action string, limit int) ([]AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	logs := []AuditLog{}
	for _, e := range a.entries {
		if action != "" && e.Action != action {
			continue
		}
		logs = append(logs, AuditLog{Action: e.Action, Target: e.Target, ChangedBy: e.ChangedBy, Details: e.Details})
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

var ghostAll = engine.MailetFunc(func(_ context.Context, mail *models.Mail) error {
	mail.SetState("ghost")
	return nil
})

var matchAll = engine.MatcherFunc(func(_ context.Context, mail *models.Mail) ([]models.Address, error) {
	return mail.Recipients, nil
})

func testRouter(t *testing.T) *engine.Router {
	t.Helper()
	var procs []*engine.Processor
	for _, name := range []string{"root", "transport", "error"} {
		procs = append(procs, engine.NewProcessor(name, []*engine.Rule{
			{MatcherName: "All", Matcher: matchAll, MailetName: "Null", Mailet: ghostAll},
		}, logger.NopLogger()))
	}
	r, err := engine.NewRouter(procs, engine.WithMaxVisits(50))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

type fixture struct {
	pipeline  *fakePipeline
	submitter *fakeSubmitter
	repo      *fakeRepository
	audit     *fakeAudit
	service   Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		pipeline:  &fakePipeline{router: testRouter(t)},
		submitter: &fakeSubmitter{},
		repo:      newFakeRepository(),
		audit:     &fakeAudit{},
	}
	opts = append([]ServiceOption{WithRepository(f.repo), WithAudit(f.audit)}, opts...)
	f.service = NewService(f.pipeline, f.submitter, opts...)
	return f
}

func storedMail(id string) *models.Mail {
	m := models.NewMailBuilder().
		WithID(id).
		WithSender("alice@remote.org").
		WithRecipients("bob@example.com").
		WithText("failed", "body text").
		WithState("error").
		Build()
	m.ErrorMessage = "mailet LocalDelivery failed"
	return m
}

func TestListProcessors(t *testing.T) {
	f := newFixture(t)

	info, err := f.service.ListProcessors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, info.MaxVisits)
	require.Len(t, info.Processors, 3)
	assert.Equal(t, "root", info.Processors[0].Name)
}

func TestListProcessorsIncludesCatalog(t *testing.T) {
	reg := engine.NewRegistry()
	reg.RegisterMatcher("HostIs", func(engine.MatcherConfig) (engine.Matcher, error) { return matchAll, nil })
	reg.RegisterMatcher("All", func(engine.MatcherConfig) (engine.Matcher, error) { return matchAll, nil })
	reg.RegisterMailet("Null", func(engine.MailetConfig) (engine.Mailet, error) { return ghostAll, nil })

	f := newFixture(t, WithCatalog(reg))
	info, err := f.service.ListProcessors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"All", "HostIs"}, info.Matchers)
	assert.Equal(t, []string{"Null"}, info.Mailets)

	info, err = newFixture(t).service.ListProcessors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, info.Mailets)
}

func TestListProcessorsWithoutRouter(t *testing.T) {
	svc := NewService(&fakePipeline{}, &fakeSubmitter{})

	_, err := svc.ListProcessors(context.Background())
	assert.Equal(t, 503, apperrors.ToHTTPStatus(err))
}

func TestSubmitMail(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.SubmitMail(context.Background(), SubmitMailRequest{
		Sender:     "alice@remote.org",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		Subject:    "hi",
		Body:       "hello",
	}, Actor{ChangedBy: "ops", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "generated", resp.ID)
	assert.Equal(t, "root", resp.State)

	require.Len(t, f.submitter.mails, 1)
	m := f.submitter.mails[0]
	assert.Equal(t, "alice@remote.org", m.SenderString())
	assert.Len(t, m.Recipients, 2)
	assert.Equal(t, "hi", m.Content.Subject())
	assert.Equal(t, "10.0.0.1", m.RemoteAddr)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, AuditActionSubmit, f.audit.entries[0].Action)
	assert.Equal(t, "ops", f.audit.entries[0].ChangedBy)
}

func TestSubmitRawMailAtProcessor(t *testing.T) {
	f := newFixture(t)

	raw := "From: alice@remote.org\r\nSubject: raw\r\n\r\nraw body\r\n"
	resp, err := f.service.SubmitMail(context.Background(), SubmitMailRequest{
		Sender:     "<>",
		Recipients: []string{"bob@example.com"},
		Raw:        raw,
		State:      "transport",
	}, Actor{})
	require.NoError(t, err)
	assert.Equal(t, "transport", resp.State)

	m := f.submitter.mails[0]
	assert.False(t, m.HasSender())
	assert.Equal(t, "raw", m.Content.Subject())
}

func TestSubmitMailValidation(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitMailRequest
	}{
		{"no recipients", SubmitMailRequest{Subject: "s"}},
		{"bad recipient", SubmitMailRequest{Recipients: []string{"nobody"}, Subject: "s"}},
		{"bad sender", SubmitMailRequest{Sender: "@@", Recipients: []string{"bob@example.com"}, Subject: "s"}},
		{"no content", SubmitMailRequest{Recipients: []string{"bob@example.com"}}},
		{"ghost state", SubmitMailRequest{Recipients: []string{"bob@example.com"}, Subject: "s", State: "ghost"}},
		{"unknown processor", SubmitMailRequest{Recipients: []string{"bob@example.com"}, Subject: "s", State: "nowhere"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.SubmitMail(context.Background(), tt.req, Actor{})
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Empty(t, f.submitter.mails)
		})
	}
}

func TestSubmitMailSpoolFailure(t *testing.T) {
	f := newFixture(t)
	f.submitter.err = apperrors.ErrServiceUnavailable.WithCause(errors.New("broker down"))

	_, err := f.service.SubmitMail(context.Background(), SubmitMailRequest{
		Recipients: []string{"bob@example.com"},
		Subject:    "s",
	}, Actor{})
	assert.Equal(t, 503, apperrors.ToHTTPStatus(err))
	assert.Empty(t, f.audit.entries)
}

func TestRepositories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m2")))
	require.NoError(t, f.repo.Store(ctx, "spam", storedMail("m3")))

	infos, err := f.service.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RepositoryInfo{{Name: "error", Count: 2}, {Name: "spam", Count: 1}}, infos)

	mails, err := f.service.ListMails(ctx, "error", 1)
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.Equal(t, "m1", mails[0].ID)

	empty, err := f.service.ListMails(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestGetMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))

	detail, err := f.service.GetMail(ctx, "error", "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice@remote.org", detail.Sender)
	assert.Equal(t, []string{"bob@example.com"}, detail.Recipients)
	assert.Equal(t, "failed", detail.Subject)
	assert.Equal(t, "body text", detail.Body)
	assert.Equal(t, "mailet LocalDelivery failed", detail.ErrorMessage)
	assert.Equal(t, []string{"failed"}, detail.Headers["Subject"])

	_, err = f.service.GetMail(ctx, "error", "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))

	require.NoError(t, f.service.DeleteMail(ctx, "error", "m1", Actor{ChangedBy: "ops"}))
	count, _ := f.repo.Count(ctx, "error")
	assert.Zero(t, count)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "error/m1", f.audit.entries[0].Target)

	err := f.service.DeleteMail(ctx, "error", "m1", Actor{})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReprocessMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))

	resp, err := f.service.ReprocessMail(ctx, "error", "m1", ReprocessRequest{Processor: "transport"}, Actor{ChangedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.ID)
	assert.Equal(t, "transport", resp.State)

	require.Len(t, f.submitter.mails, 1)
	m := f.submitter.mails[0]
	assert.Equal(t, "transport", m.State)
	assert.Empty(t, m.ErrorMessage)

	_, err = f.repo.Get(ctx, "error", "m1")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, AuditActionReprocess, f.audit.entries[0].Action)
}

func TestReprocessMailDefaultsToRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))

	resp, err := f.service.ReprocessMail(ctx, "error", "m1", ReprocessRequest{}, Actor{})
	require.NoError(t, err)
	assert.Equal(t, "root", resp.State)
}

func TestReprocessMailKeepsStoredCopyOnSpoolFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))
	f.submitter.err = errors.New("broker down")

	_, err := f.service.ReprocessMail(ctx, "error", "m1", ReprocessRequest{}, Actor{})
	assert.Equal(t, 500, apperrors.ToHTTPStatus(err))

	_, err = f.repo.Get(ctx, "error", "m1")
	assert.NoError(t, err)
}

func TestReprocessMailRejectsUnknownProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))

	for _, target := range []string{"ghost", "nowhere"} {
		_, err := f.service.ReprocessMail(ctx, "error", "m1", ReprocessRequest{Processor: target}, Actor{})
		assert.True(t, apperrors.IsValidation(err), target)
	}
	assert.Empty(t, f.submitter.mails)
}

func TestRepositoriesNotConfigured(t *testing.T) {
	svc := NewService(&fakePipeline{router: testRouter(t)}, &fakeSubmitter{})

	_, err := svc.ListRepositories(context.Background())
	assert.Equal(t, 503, apperrors.ToHTTPStatus(err))

	_, err = svc.GetAuditLogs(context.Background(), "", 10)
	assert.Equal(t, 503, apperrors.ToHTTPStatus(err))
}

func TestReloadPipelineLocal(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.ReloadPipeline(context.Background(), Actor{ChangedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "local", resp.Mode)
	assert.Equal(t, []string{"root", "transport", "error"}, resp.Processors)
	assert.Equal(t, 1, f.pipeline.reloads)

	logs, err := f.service.GetAuditLogs(context.Background(), AuditActionReload, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "local", logs[0].Details["mode"])
}

func TestReloadPipelineFailure(t *testing.T) {
	f := newFixture(t)
	f.pipeline.err = apperrors.ErrConfig.WithDetail("processor", "root")

	_, err := f.service.ReloadPipeline(context.Background(), Actor{})
	assert.True(t, apperrors.IsConfig(err))
	assert.Empty(t, f.audit.entries)
}

func TestReloadPipelineBroadcast(t *testing.T) {
	b := broker.NewMemoryBroker(config.MemoryConfig{QueueSize: 4}, logger.NopLogger())
	t.Cleanup(func() { _ = b.Close() })

	f := newFixture(t, WithConfigEvents(NewConfigEventProducer(b, "config_events")))

	resp, err := f.service.ReloadPipeline(context.Background(), Actor{ChangedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "broadcast", resp.Mode)
	assert.Zero(t, f.pipeline.reloads)
	assert.Equal(t, 1, b.Len("config_events"))
}
