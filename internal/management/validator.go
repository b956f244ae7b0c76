package management

import (
	"fmt"
	"strings"

	"mailflow/internal/constants"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
)

func ValidateSubmitMail(req SubmitMailRequest) error {
	if len(req.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if req.Sender != "" && req.Sender != "<>" {
		if _, err := models.ParseAddress(req.Sender); err != nil {
			return fmt.Errorf("invalid sender: %w", err)
		}
	}
	for i, r := range req.Recipients {
		if _, err := models.ParseAddress(r); err != nil {
			return fmt.Errorf("invalid recipient %d: %w", i, err)
		}
	}
	if req.Raw == "" && req.Subject == "" && req.Body == "" {
		return fmt.Errorf("either raw or subject/body is required")
	}
	if req.State == constants.StateGhost {
		return fmt.Errorf("state %q cannot be submitted", constants.StateGhost)
	}
	return nil
}

// ValidateExpression compiles a CEL expression the way the CEL matcher
// ("filter") or the attribute mailets ("value") would.
func ValidateExpression(req ValidateExpressionRequest) error {
	if strings.TrimSpace(req.Expression) == "" {
		return fmt.Errorf("expression is required")
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	switch req.Kind {
	case "", "filter":
		return evaluator.ValidateFilterExpression(req.Expression)
	case "value":
		return evaluator.ValidateExpression(req.Expression)
	default:
		return fmt.Errorf("unknown expression kind %q", req.Kind)
	}
}
