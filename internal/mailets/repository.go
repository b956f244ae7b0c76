package mailets

import (
	"context"
	"fmt"

	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

// newToRepository keeps a full copy of the mail in a named repository,
// where an operator can inspect or reprocess it.
func newToRepository(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("ToRepository requires a mail repository (mongodb)")
	}
	name := cfg.Settings.String("repository", constants.DefaultRepository)
	passThrough, err := cfg.Settings.Bool("pass_through", false)
	if err != nil {
		return nil, err
	}
	log := deps.Logger.Named("mailet.repository")

	return engine.MailetFunc(func(ctx context.Context, mail *models.Mail) error {
		if err := deps.Repository.Store(ctx, name, mail); err != nil {
			return err
		}
		log.InfowCtx(ctx, "Mail stored in repository", "repository", name, "error_message", mail.ErrorMessage)
		finish(mail, passThrough)
		return nil
	}), nil
}
