package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateMail(mail *Mail) error {
	if mail == nil {
		return &ValidationError{
			Field:   "mail",
			Message: "mail cannot be nil",
		}
	}

	if mail.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "mail ID is required",
		}
	}

	if mail.Recipients == nil {
		return &ValidationError{
			Field:   "recipients",
			Message: "recipients cannot be nil",
		}
	}

	for i, r := range mail.Recipients {
		if r.Local == "" || r.Domain == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("recipients[%d]", i),
				Message: "recipient must have a local part and a domain",
			}
		}
	}

	if mail.Content == nil {
		return &ValidationError{
			Field:   "content",
			Message: "mail content is required",
		}
	}

	return nil
}
