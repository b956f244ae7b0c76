package matchers

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"mailflow/internal/engine"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
)

// expression evaluates a boolean CEL program once per recipient.
type expression struct {
	source    string
	program   celgo.Program
	evaluator *cel.Evaluator
}

func newExpression(cfg engine.MatcherConfig, deps Deps) (engine.Matcher, error) {
	if err := requireCondition(cfg); err != nil {
		return nil, err
	}

	evaluator := deps.Evaluator
	if evaluator == nil {
		var err error
		if evaluator, err = cel.NewEvaluator(); err != nil {
			return nil, err
		}
	}

	program, err := evaluator.CompileFilter(cfg.Condition)
	if err != nil {
		return nil, err
	}

	return &expression{source: cfg.Condition, program: program, evaluator: evaluator}, nil
}

func (m *expression) Match(ctx context.Context, mail *models.Mail) ([]models.Address, error) {
	matched := make([]models.Address, 0, len(mail.Recipients))
	for _, r := range mail.Recipients {
		ok, err := m.evaluator.RunFilter(ctx, m.program, mail, r)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", m.source, err)
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}
