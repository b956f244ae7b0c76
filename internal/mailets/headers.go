package mailets

import (
	"context"
	"fmt"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

// Header mailets copy the content before editing it: the content is shared
// with the recipients the rule did not match.

func newAddHeader(cfg engine.MailetConfig, _ Deps) (engine.Mailet, error) {
	name, err := cfg.Settings.Require("name")
	if err != nil {
		return nil, err
	}
	value := cfg.Settings.String("value", "")
	replace, err := cfg.Settings.Bool("replace", false)
	if err != nil {
		return nil, err
	}

	return engine.MailetFunc(func(_ context.Context, mail *models.Mail) error {
		if mail.Content == nil {
			return fmt.Errorf("mail %s has no content", mail.ID)
		}
		content := mail.Content.Clone()
		if replace {
			content.Header.Set(name, value)
		} else {
			content.Header.Add(name, value)
		}
		mail.Content = content
		return nil
	}), nil
}

func newRemoveHeader(cfg engine.MailetConfig, _ Deps) (engine.Mailet, error) {
	names := cfg.Settings.Strings("name")
	if len(names) == 0 {
		return nil, fmt.Errorf("setting %q is required", "name")
	}

	return engine.MailetFunc(func(_ context.Context, mail *models.Mail) error {
		if mail.Content == nil {
			return nil
		}
		content := mail.Content.Clone()
		for _, name := range names {
			content.Header.Del(name)
		}
		mail.Content = content
		return nil
	}), nil
}
