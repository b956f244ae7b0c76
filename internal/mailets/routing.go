package mailets

import (
	"context"

	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

// toProcessor moves the mail to another processor, optionally recording a
// notice as its error message.
type toProcessor struct {
	target string
	notice string
}

func newToProcessor(cfg engine.MailetConfig, _ Deps) (engine.Mailet, error) {
	target, err := cfg.Settings.Require("processor")
	if err != nil {
		return nil, err
	}
	return &toProcessor{target: target, notice: cfg.Settings.String("notice", "")}, nil
}

func (m *toProcessor) Service(_ context.Context, mail *models.Mail) error {
	if m.notice != "" {
		mail.ErrorMessage = m.notice
	}
	mail.SetState(m.target)
	return nil
}

func (m *toProcessor) Targets() []string {
	return []string{m.target}
}

func newNull(engine.MailetConfig, Deps) (engine.Mailet, error) {
	return engine.MailetFunc(func(_ context.Context, mail *models.Mail) error {
		mail.SetState(constants.StateGhost)
		return nil
	}), nil
}

// finish ghosts the mail unless the mailet was configured to let it
// continue through the processor.
func finish(mail *models.Mail, passThrough bool) {
	if !passThrough {
		mail.SetState(constants.StateGhost)
	}
}
