package engine

import (
	"context"
	"fmt"
	"time"

	"mailflow/internal/constants"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

// Processor runs an ordered list of rules against a mail. Rules run
// strictly in sequence; the first rule that moves the mail to another
// state ends the visit. A trailing loop guard ghosts mail that no rule
// routed elsewhere.
type Processor struct {
	name   string
	rules  []*Rule
	logger logger.Logger
}

func NewProcessor(name string, rules []*Rule, log logger.Logger) *Processor {
	if log == nil {
		log = logger.NopLogger()
	}
	for i, r := range rules {
		r.Position = i
	}
	return &Processor{name: name, rules: rules, logger: log}
}

func (p *Processor) Name() string {
	return p.name
}

func (p *Processor) Rules() []*Rule {
	return p.rules
}

// Service performs one visit. It returns only the context's error when
// the caller abandons the mail between two rules; every rule failure is
// absorbed into the mail's state.
func (p *Processor) Service(ctx context.Context, mail *models.Mail) error {
	for _, rule := range p.rules {
		if mail.State != p.name {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.runRule(ctx, rule, mail)
	}

	if mail.State == p.name {
		p.loopGuard(ctx, mail)
	}
	return nil
}

func (p *Processor) loopGuard(ctx context.Context, mail *models.Mail) {
	if p.name != constants.StateError {
		p.logger.WarnwCtx(ctx, "Processor finished without routing mail elsewhere, ghosting it",
			"processor", p.name,
			"recipients", len(mail.Recipients),
		)
		metrics.IncLoopGuardTrigger(p.name)
	}
	mail.SetState(constants.StateGhost)
}

func (p *Processor) runRule(ctx context.Context, rule *Rule, mail *models.Mail) {
	matched, err := p.match(ctx, rule, mail)
	if err != nil {
		metrics.IncRuleEvaluation(p.name, rule.MatcherName, "error")
		p.handleFailure(ctx, rule, mail, "matcher", rule.MatcherName, err)
		return
	}

	if len(matched) == 0 {
		metrics.IncRuleEvaluation(p.name, rule.MatcherName, "none")
		return
	}

	result := "all"
	if len(matched) < len(models.Dedupe(mail.Recipients)) {
		result = "partial"
	}
	metrics.IncRuleEvaluation(p.name, rule.MatcherName, result)

	view, unmatched := split(mail, matched)
	view.Attributes.LastMatcher = rule.MatcherName

	if err := p.service(ctx, rule, view); err != nil {
		// The view is dropped, so the mail is exactly as before the rule.
		p.handleFailure(ctx, rule, mail, "mailet", rule.MailetName, err)
		return
	}

	join(mail, view, unmatched)
}

func (p *Processor) match(ctx context.Context, rule *Rule, mail *models.Mail) ([]models.Address, error) {
	var matched []models.Address
	err := apperrors.Guard(func() (err error) {
		matched, err = rule.Matcher.Match(ctx, mail)
		return err
	})
	if err != nil {
		return nil, err
	}
	return models.Intersect(matched, mail.Recipients), nil
}

func (p *Processor) service(ctx context.Context, rule *Rule, view *models.Mail) error {
	start := time.Now()
	err := apperrors.Guard(func() error {
		return rule.Mailet.Service(ctx, view)
	})

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ObserveMailetDuration(rule.MailetName, status, time.Since(start))
	return err
}

func (p *Processor) handleFailure(ctx context.Context, rule *Rule, mail *models.Mail, component, name string, err error) {
	policy := rule.OnError
	if override := mail.Attributes.OnErrorOverride; override != "" {
		if parsed, perr := ParseErrorPolicy(override); perr == nil {
			policy = parsed
		}
	}

	// The error processor never escalates to itself.
	if p.name == constants.StateError && policy == PolicyPropagate {
		policy = PolicyAbort
	}

	metrics.IncRuleFailure(p.name, component, policy.String())

	failure := apperrors.ErrMailetFailure
	if component == "matcher" {
		failure = apperrors.ErrMatcherFailure
	}
	failure = failure.WithCause(err).WithDetail(component, name)

	fields := []interface{}{
		"processor", p.name,
		"rule", rule.Position,
		"policy", policy.String(),
		"error_code", failure.Code,
		"error", failure,
	}

	switch policy {
	case PolicyIgnore:
		p.logger.WarnwCtx(ctx, "Rule failed, continuing with next rule", fields...)
	case PolicyAbort:
		p.logger.ErrorwCtx(ctx, "Rule failed, ghosting mail", fields...)
		mail.SetState(constants.StateGhost)
	default:
		p.logger.ErrorwCtx(ctx, "Rule failed, moving mail to error processor", fields...)
		mail.ErrorMessage = fmt.Sprintf("%s %s failed in processor %s: %s", component, name, p.name, apperrors.Message(err))
		mail.SetState(constants.StateError)
	}
}
