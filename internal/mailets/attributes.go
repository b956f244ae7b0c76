package mailets

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"mailflow/internal/engine"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
)

// setAttribute sets either a literal value or the result of a CEL
// expression evaluated against the mail.
type setAttribute struct {
	name      string
	value     interface{}
	program   celgo.Program
	evaluator *cel.Evaluator
}

func newSetAttribute(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	name, err := cfg.Settings.Require("name")
	if err != nil {
		return nil, err
	}

	m := &setAttribute{name: name}

	switch {
	case cfg.Settings.Has("expression"):
		expr, err := cfg.Settings.Require("expression")
		if err != nil {
			return nil, err
		}
		m.evaluator = deps.Evaluator
		if m.evaluator == nil {
			if m.evaluator, err = cel.NewEvaluator(); err != nil {
				return nil, err
			}
		}
		if m.program, err = m.evaluator.CompileExpression(expr); err != nil {
			return nil, err
		}
	case cfg.Settings.Has("value"):
		m.value = cfg.Settings["value"]
	default:
		return nil, fmt.Errorf("one of settings %q and %q is required", "value", "expression")
	}

	return m, nil
}

func (m *setAttribute) Service(ctx context.Context, mail *models.Mail) error {
	if m.program == nil {
		mail.Attributes.Set(m.name, m.value)
		return nil
	}

	value, err := m.evaluator.RunValue(ctx, m.program, mail)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", m.name, err)
	}
	mail.Attributes.Set(m.name, value)
	return nil
}

func newClearAttributes(cfg engine.MailetConfig, _ Deps) (engine.Mailet, error) {
	names := cfg.Settings.Strings("names")

	return engine.MailetFunc(func(_ context.Context, mail *models.Mail) error {
		if len(names) == 0 {
			mail.Attributes.Clear()
			return nil
		}
		for _, name := range names {
			mail.Attributes.Delete(name)
		}
		return nil
	}), nil
}
