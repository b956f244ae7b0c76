// Package matchers holds the built-in matchers a pipeline can reference.
package matchers

import (
	"context"

	"mailflow/internal/engine"
	"mailflow/internal/logger"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
)

// UserDirectory answers whether a local mailbox exists.
type UserDirectory interface {
	Exists(ctx context.Context, address models.Address) (bool, error)
}

type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, mail *models.Mail, recipient models.Address) (bool, error)
}

// Deps are the collaborators of matchers that look beyond the mail itself.
// Matchers whose collaborator is nil fail to instantiate.
type Deps struct {
	LocalDomains []string
	Directory    UserDirectory
	Duplicates   DuplicateDetector
	Evaluator    *cel.Evaluator
	Logger       logger.Logger
}

func Register(reg *engine.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = logger.NopLogger()
	}

	reg.RegisterMatcher("All", newAll)
	reg.RegisterMatcher("RecipientIs", newRecipientIs)
	reg.RegisterMatcher("HostIs", newHostIs)
	reg.RegisterMatcher("HostIsLocal", func(cfg engine.MatcherConfig) (engine.Matcher, error) {
		return newHostIsLocal(cfg, deps)
	})
	reg.RegisterMatcher("RecipientIsLocal", func(cfg engine.MatcherConfig) (engine.Matcher, error) {
		return newRecipientIsLocal(cfg, deps)
	})

	reg.RegisterMatcher("SenderIs", newSenderIs)
	reg.RegisterMatcher("SenderIsNull", newSenderIsNull)
	reg.RegisterMatcher("SenderHostIs", newSenderHostIs)
	reg.RegisterMatcher("SenderRateExceeded", newSenderRateExceeded)

	reg.RegisterMatcher("HasAttribute", newHasAttribute)
	reg.RegisterMatcher("HasHeader", newHasHeader)
	reg.RegisterMatcher("SizeGreaterThan", newSizeGreaterThan)
	reg.RegisterMatcher("RelayLimit", newRelayLimit)
	reg.RegisterMatcher("BodyContains", newBodyContains)

	reg.RegisterMatcher("Expression", func(cfg engine.MatcherConfig) (engine.Matcher, error) {
		return newExpression(cfg, deps)
	})
	reg.RegisterMatcher("IsDuplicate", func(cfg engine.MatcherConfig) (engine.Matcher, error) {
		return newIsDuplicate(cfg, deps)
	})
}
