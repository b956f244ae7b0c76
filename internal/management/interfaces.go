package management

import (
	"context"

	"mailflow/internal/engine"
	"mailflow/internal/repository"
	"mailflow/pkg/models"
)

type Service interface {
	ListProcessors(ctx context.Context) (*PipelineInfo, error)
	ReloadPipeline(ctx context.Context, actor Actor) (*ReloadResponse, error)

	SubmitMail(ctx context.Context, req SubmitMailRequest, actor Actor) (*SubmitMailResponse, error)

	ListRepositories(ctx context.Context) ([]RepositoryInfo, error)
	ListMails(ctx context.Context, name string, limit int) ([]repository.Summary, error)
	GetMail(ctx context.Context, name, id string) (*MailDetail, error)
	DeleteMail(ctx context.Context, name, id string, actor Actor) error
	ReprocessMail(ctx context.Context, name, id string, req ReprocessRequest, actor Actor) (*SubmitMailResponse, error)

	GetAuditLogs(ctx context.Context, action string, limit int) ([]AuditLog, error)
}

// Catalog lists the matcher and mailet names a pipeline may use.
type Catalog interface {
	MatcherNames() []string
	MailetNames() []string
}

// Pipeline is the running engine as seen by the management API.
type Pipeline interface {
	Router() *engine.Router
	Reload(ctx context.Context) error
}

type Submitter interface {
	Submit(ctx context.Context, mail *models.Mail) (string, error)
}

type AuditRepository interface {
	Record(ctx context.Context, entry AuditLogEntry) error
	List(ctx context.Context, action string, limit int) ([]AuditLog, error)
}
