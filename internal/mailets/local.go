package mailets

import (
	"context"
	"fmt"

	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

// localDelivery stores the mail in each recipient's mailbox. Delivered
// recipients are removed; the mail is ghosted once none remain.
func newLocalDelivery(_ engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Mailboxes == nil {
		return nil, fmt.Errorf("LocalDelivery requires a mailbox store (postgres)")
	}
	log := deps.Logger.Named("mailet.local")

	return engine.MailetFunc(func(ctx context.Context, mail *models.Mail) error {
		for _, r := range mail.Recipients {
			if err := deps.Mailboxes.Deliver(ctx, r, mail); err != nil {
				metrics.IncDelivery("LocalDelivery", "failure")
				return fmt.Errorf("local delivery to %s: %w", r, err)
			}
			metrics.IncDelivery("LocalDelivery", "success")
			log.DebugwCtx(ctx, "Delivered to mailbox", "recipient", r.String())
		}

		mail.Recipients = []models.Address{}
		mail.SetState(constants.StateGhost)
		return nil
	}), nil
}
