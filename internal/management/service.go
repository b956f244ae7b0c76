package management

import (
	"context"
	"errors"
	"sort"

	"mailflow/internal/constants"
	"mailflow/internal/logger"
	"mailflow/internal/repository"
	pkgerrors "mailflow/pkg/errors"
	"mailflow/pkg/models"
)

type service struct {
	pipeline            Pipeline
	submitter           Submitter
	repo                repository.Repository
	audit               AuditRepository
	configEventProducer *ConfigEventProducer
	catalog             Catalog
	logger              logger.Logger
}

type ServiceOption func(*service)

func WithRepository(repo repository.Repository) ServiceOption {
	return func(s *service) {
		s.repo = repo
	}
}

func WithAudit(audit AuditRepository) ServiceOption {
	return func(s *service) {
		s.audit = audit
	}
}

// WithConfigEvents makes pipeline reloads a broadcast: every instance
// consuming the config topic rebuilds its router, this one included.
func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

func WithCatalog(catalog Catalog) ServiceOption {
	return func(s *service) {
		s.catalog = catalog
	}
}

func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func NewService(pipeline Pipeline, submitter Submitter, opts ...ServiceOption) Service {
	s := &service{
		pipeline:  pipeline,
		submitter: submitter,
		logger:    logger.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) ListProcessors(ctx context.Context) (*PipelineInfo, error) {
	router := s.pipeline.Router()
	if router == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "pipeline not loaded")
	}
	info := &PipelineInfo{
		MaxVisits:  router.MaxVisits(),
		InFlight:   router.InFlight(),
		Processors: router.Processors(),
	}
	if s.catalog != nil {
		info.Matchers = s.catalog.MatcherNames()
		info.Mailets = s.catalog.MailetNames()
	}
	return info, nil
}

func (s *service) ReloadPipeline(ctx context.Context, actor Actor) (*ReloadResponse, error) {
	resp := &ReloadResponse{}

	if s.configEventProducer != nil {
		if err := s.configEventProducer.PublishPipelineReload(ctx, actor.ChangedBy); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrServiceUnavailable)
		}
		resp.Mode = "broadcast"
	} else {
		if err := s.pipeline.Reload(ctx); err != nil {
			return nil, coded(err)
		}
		resp.Mode = "local"
		if router := s.pipeline.Router(); router != nil {
			resp.Processors = router.ProcessorNames()
		}
	}

	s.record(ctx, actor, AuditActionReload, "pipeline", map[string]interface{}{"mode": resp.Mode})
	return resp, nil
}

func (s *service) SubmitMail(ctx context.Context, req SubmitMailRequest, actor Actor) (*SubmitMailResponse, error) {
	if err := ValidateSubmitMail(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	state := req.State
	if state == "" {
		state = constants.StateRoot
	}
	if err := s.checkProcessor(state); err != nil {
		return nil, err
	}

	builder := models.NewMailBuilder().
		WithSender(req.Sender).
		WithRecipients(req.Recipients...).
		WithState(state).
		WithRemoteAddr(actor.IPAddress)

	if req.Raw != "" {
		content, err := models.ParseContent([]byte(req.Raw))
		if err != nil {
			return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("field", "raw")
		}
		builder.WithContent(content)
	} else {
		builder.WithText(req.Subject, req.Body)
	}

	id, err := s.submitter.Submit(ctx, builder.Build())
	if err != nil {
		return nil, coded(err)
	}

	s.record(ctx, actor, AuditActionSubmit, id, map[string]interface{}{
		"state":      state,
		"recipients": req.Recipients,
	})
	return &SubmitMailResponse{ID: id, State: state}, nil
}

func (s *service) ListRepositories(ctx context.Context) ([]RepositoryInfo, error) {
	if err := s.requireRepository(); err != nil {
		return nil, err
	}

	names, err := s.repo.Names(ctx)
	if err != nil {
		return nil, coded(err)
	}
	sort.Strings(names)

	infos := make([]RepositoryInfo, 0, len(names))
	for _, name := range names {
		count, err := s.repo.Count(ctx, name)
		if err != nil {
			return nil, coded(err)
		}
		infos = append(infos, RepositoryInfo{Name: name, Count: count})
	}
	return infos, nil
}

func (s *service) ListMails(ctx context.Context, name string, limit int) ([]repository.Summary, error) {
	if err := s.requireRepository(); err != nil {
		return nil, err
	}

	summaries, err := s.repo.List(ctx, name, limit)
	if err != nil {
		return nil, coded(err)
	}
	if summaries == nil {
		summaries = []repository.Summary{}
	}
	return summaries, nil
}

func (s *service) GetMail(ctx context.Context, name, id string) (*MailDetail, error) {
	if err := s.requireRepository(); err != nil {
		return nil, err
	}

	mail, err := s.repo.Get(ctx, name, id)
	if err != nil {
		return nil, coded(err)
	}
	return s.toDetail(ctx, mail), nil
}

func (s *service) DeleteMail(ctx context.Context, name, id string, actor Actor) error {
	if err := s.requireRepository(); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, name, id); err != nil {
		return coded(err)
	}

	s.record(ctx, actor, AuditActionDelete, name+"/"+id, nil)
	s.publishRepositoryEvent(ctx, models.ActionDelete, name, id, actor)
	return nil
}

// ReprocessMail resubmits a stored mail at the given processor (root by
// default) and removes it from the repository once it is spooled.
func (s *service) ReprocessMail(ctx context.Context, name, id string, req ReprocessRequest, actor Actor) (*SubmitMailResponse, error) {
	if err := s.requireRepository(); err != nil {
		return nil, err
	}

	target := req.Processor
	if target == "" {
		target = constants.StateRoot
	}
	if target == constants.StateGhost {
		return nil, pkgerrors.ErrValidation.WithDetail("processor", target)
	}
	if err := s.checkProcessor(target); err != nil {
		return nil, err
	}

	mail, err := s.repo.Get(ctx, name, id)
	if err != nil {
		return nil, coded(err)
	}
	if mail.Content == nil {
		return nil, pkgerrors.ErrConflict.WithDetail("message", "stored mail has no content")
	}

	mail.SetState(target)
	mail.ErrorMessage = ""

	newID, err := s.submitter.Submit(ctx, mail)
	if err != nil {
		return nil, coded(err)
	}

	if err := s.repo.Delete(ctx, name, id); err != nil {
		s.logger.WarnwCtx(ctx, "Reprocessed mail left in repository",
			"repository", name,
			"mail_id", id,
			"error", err,
		)
	}

	s.record(ctx, actor, AuditActionReprocess, name+"/"+id, map[string]interface{}{"processor": target})
	s.publishRepositoryEvent(ctx, models.ActionReprocess, name, id, actor)
	return &SubmitMailResponse{ID: newID, State: target}, nil
}

func (s *service) GetAuditLogs(ctx context.Context, action string, limit int) ([]AuditLog, error) {
	if s.audit == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "audit logging not enabled")
	}

	logs, err := s.audit.List(ctx, action, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

func (s *service) requireRepository() error {
	if s.repo == nil {
		return pkgerrors.ErrServiceUnavailable.WithDetail("message", "mail repositories not configured")
	}
	return nil
}

// checkProcessor refuses states the current router cannot dispatch to.
func (s *service) checkProcessor(state string) error {
	router := s.pipeline.Router()
	if router == nil {
		return pkgerrors.ErrServiceUnavailable.WithDetail("message", "pipeline not loaded")
	}
	if _, ok := router.Processor(state); !ok {
		return pkgerrors.ErrValidation.WithDetail("processor", state)
	}
	return nil
}

func (s *service) toDetail(ctx context.Context, mail *models.Mail) *MailDetail {
	detail := &MailDetail{
		ID:           mail.ID,
		Sender:       mail.SenderString(),
		Recipients:   models.AddressStrings(mail.Recipients),
		State:        mail.State,
		ErrorMessage: mail.ErrorMessage,
		Attributes:   mail.Attributes.AsMap(),
		Size:         mail.Size(),
		RemoteAddr:   mail.RemoteAddr,
		ReceivedAt:   mail.ReceivedAt,
	}

	if mail.Content == nil {
		return detail
	}

	detail.Headers = make(map[string][]string)
	fields := mail.Content.Header.Fields()
	for fields.Next() {
		detail.Headers[fields.Key()] = append(detail.Headers[fields.Key()], fields.Value())
	}
	detail.Subject = mail.Content.Subject()

	body, err := mail.Content.TextBody()
	if err != nil {
		s.logger.DebugwCtx(ctx, "No readable text body", "mail_id", mail.ID, "error", err)
	}
	detail.Body = body
	return detail
}

func (s *service) record(ctx context.Context, actor Actor, action, target string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := AuditLogEntry{
		Action:    action,
		Target:    target,
		Details:   details,
		ChangedBy: actor.ChangedBy,
		IPAddress: actor.IPAddress,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record audit entry", "action", action, "target", target, "error", err)
	}
}

func (s *service) publishRepositoryEvent(ctx context.Context, action, name, id string, actor Actor) {
	if err := s.configEventProducer.PublishRepositoryEvent(ctx, action, name, id, actor.ChangedBy); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish repository event", "action", action, "repository", name, "error", err)
	}
}

// coded keeps errors that already carry an API code and wraps the rest as
// internal failures.
func coded(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}
