// Package mailets holds the built-in mailets a pipeline can reference.
package mailets

import (
	"context"

	"mailflow/internal/config"
	"mailflow/internal/engine"
	"mailflow/internal/enrichment/provider"
	"mailflow/internal/logger"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
	"mailflow/pkg/retry"
)

// Submitter re-injects a new mail into the spool.
type Submitter interface {
	Submit(ctx context.Context, mail *models.Mail) (string, error)
}

type MailboxStore interface {
	Deliver(ctx context.Context, recipient models.Address, mail *models.Mail) error
}

type MailStore interface {
	Store(ctx context.Context, repository string, mail *models.Mail) error
}

// RewriteTable maps an address to its replacement addresses. A miss
// returns ok == false.
type RewriteTable interface {
	Lookup(ctx context.Context, address models.Address) (targets []string, ok bool, err error)
}

type Transport interface {
	Send(ctx context.Context, from string, to []string, data []byte) error
}

type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Enricher fetches a record by key from a named source type. A missing
// record returns found == false and no error.
type Enricher interface {
	Supports(sourceType string) bool
	Lookup(ctx context.Context, sourceType string, source provider.Source, key string) (record map[string]interface{}, found bool, err error)
}

// Deps are the collaborators of mailets that reach outside the engine.
// Mailets whose collaborator is nil fail to instantiate.
type Deps struct {
	Logger     logger.Logger
	Evaluator  *cel.Evaluator
	Submitter  Submitter
	Mailboxes  MailboxStore
	Repository MailStore
	Rewrites   RewriteTable
	Transport  Transport
	Archive    Archiver
	Enricher   Enricher
	Postmaster string
	Retry      retry.Policy
	Breaker    config.CircuitBreakerConfig
}

func Register(reg *engine.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = logger.NopLogger()
	}

	with := func(factory func(engine.MailetConfig, Deps) (engine.Mailet, error)) engine.MailetFactory {
		return func(cfg engine.MailetConfig) (engine.Mailet, error) {
			return factory(cfg, deps)
		}
	}

	reg.RegisterMailet("ToProcessor", with(newToProcessor))
	reg.RegisterMailet("Null", with(newNull))
	reg.RegisterMailet("AddHeader", with(newAddHeader))
	reg.RegisterMailet("RemoveHeader", with(newRemoveHeader))
	reg.RegisterMailet("SetAttribute", with(newSetAttribute))
	reg.RegisterMailet("ClearAttributes", with(newClearAttributes))
	reg.RegisterMailet("LogMessage", with(newLogMessage))
	reg.RegisterMailet("RecipientRewriteTable", with(newRecipientRewriteTable))
	reg.RegisterMailet("LocalDelivery", with(newLocalDelivery))
	reg.RegisterMailet("RemoteDelivery", with(newRemoteDelivery))
	reg.RegisterMailet("Bounce", with(newBounce))
	reg.RegisterMailet("ToRepository", with(newToRepository))
	reg.RegisterMailet("Archive", with(newArchive))
	reg.RegisterMailet("Enrich", with(newEnrich))
}
