package mailets

import (
	"context"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

func newLogMessage(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	comment := cfg.Settings.String("comment", "Mail passing through")
	withHeaders, err := cfg.Settings.Bool("headers", false)
	if err != nil {
		return nil, err
	}
	log := deps.Logger.Named("mailet.log")

	return engine.MailetFunc(func(ctx context.Context, mail *models.Mail) error {
		fields := []interface{}{
			"mail_id", mail.ID,
			"sender", mail.SenderString(),
			"recipients", models.AddressStrings(mail.Recipients),
			"state", mail.State,
			"size", mail.Size(),
		}
		if withHeaders && mail.Content != nil {
			headers := map[string]string{}
			it := mail.Content.Header.Fields()
			for it.Next() {
				if _, ok := headers[it.Key()]; !ok {
					headers[it.Key()] = it.Value()
				}
			}
			fields = append(fields, "headers", headers)
		}
		log.InfowCtx(ctx, comment, fields...)
		return nil
	}), nil
}
