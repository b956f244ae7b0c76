package cel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"mailflow/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("sender_domain", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("recipient_domain", cel.StringType),
		cel.Variable("recipients", cel.ListType(cel.StringType)),
		cel.Variable("state", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("remote_addr", cel.StringType),
		cel.Variable("received_at", cel.TimestampType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileFilter compiles a boolean expression once so it can be evaluated
// per recipient without recompiling.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, mail *models.Mail, recipient models.Address) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return e.RunFilter(ctx, program, mail, recipient)
}

func (e *Evaluator) RunFilter(ctx context.Context, program cel.Program, mail *models.Mail, recipient models.Address) (bool, error) {
	result, _, err := program.ContextEval(ctx, e.mailToVars(mail, recipient))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateValue evaluates an arbitrary expression against the whole mail.
// The recipient variables are bound to the first recipient, if any.
func (e *Evaluator) EvaluateValue(ctx context.Context, expression string, mail *models.Mail) (interface{}, error) {
	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}
	return e.RunValue(ctx, program, mail)
}

func (e *Evaluator) RunValue(ctx context.Context, program cel.Program, mail *models.Mail) (interface{}, error) {
	var first models.Address
	if len(mail.Recipients) > 0 {
		first = mail.Recipients[0]
	}

	result, _, err := program.ContextEval(ctx, e.mailToVars(mail, first))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	return result.Value(), nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) mailToVars(mail *models.Mail, recipient models.Address) map[string]interface{} {
	headers := make(map[string]string)
	subject := ""
	if mail.Content != nil {
		fields := mail.Content.Header.Fields()
		for fields.Next() {
			key := strings.ToLower(fields.Key())
			if _, ok := headers[key]; !ok {
				headers[key] = fields.Value()
			}
		}
		subject = mail.Content.Subject()
	}

	senderDomain := ""
	if mail.Sender != nil {
		senderDomain = mail.Sender.Domain
	}

	sender := ""
	if mail.Sender != nil {
		sender = mail.Sender.String()
	}

	return map[string]interface{}{
		"id":               mail.ID,
		"sender":           sender,
		"sender_domain":    senderDomain,
		"recipient":        recipient.String(),
		"recipient_domain": recipient.Domain,
		"recipients":       models.AddressStrings(mail.Recipients),
		"state":            mail.State,
		"size":             mail.Size(),
		"subject":          subject,
		"remote_addr":      mail.RemoteAddr,
		"received_at":      mail.ReceivedAt,
		"headers":          headers,
		"attributes":       mail.Attributes.AsMap(),
	}
}
