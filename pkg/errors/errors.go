package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConfig             = "CONFIG_ERROR"
	CodeMailetFailure      = "MAILET_FAILURE"
	CodeMatcherFailure     = "MATCHER_FAILURE"
	CodeRouting            = "ROUTING_ERROR"
	CodeRejected           = "REJECTED"
)

var (
	ErrNotFound           = NewError(CodeNotFound, "resource not found", http.StatusNotFound)
	ErrValidation         = NewError(CodeValidation, "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError(CodeInternal, "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError(CodeConflict, "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = NewError(CodeServiceUnavailable, "service unavailable", http.StatusServiceUnavailable)

	ErrConfig         = NewError(CodeConfig, "invalid processing configuration", http.StatusUnprocessableEntity)
	ErrMailetFailure  = NewError(CodeMailetFailure, "mailet failed", http.StatusInternalServerError)
	ErrMatcherFailure = NewError(CodeMatcherFailure, "matcher failed", http.StatusInternalServerError)
	ErrRejected       = NewError(CodeRejected, "mail refused by the dispatcher", http.StatusConflict)
)

// Retrying cannot fix these.
var permanentCodes = map[string]bool{
	CodeNotFound:   true,
	CodeValidation: true,
	CodeConfig:     true,
	CodeRejected:   true,
}

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable honours an explicit AsFatal, then the cause's own
// classification, then the code.
func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !permanentCodes[e.Code]
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) AsFatal() *Error {
	err := e.clone()
	retryable := false
	err.retryable = &retryable
	return err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func HasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool   { return HasCode(err, CodeNotFound) }
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
func IsConflict(err error) bool   { return HasCode(err, CodeConflict) }
func IsConfig(err error) bool     { return HasCode(err, CodeConfig) }
func IsRejected(err error) bool   { return HasCode(err, CodeRejected) }

// Message returns the most specific human readable text of err, preferring
// the detail message of a coded error over its generic message.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if detailMsg, ok := appErr.Details["message"].(string); ok && detailMsg != "" {
			return detailMsg
		}
		if appErr.Cause != nil {
			return fmt.Sprintf("%s: %s", appErr.Message, Message(appErr.Cause))
		}
		return appErr.Message
	}
	return err.Error()
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		details := make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			if k == "stack_trace" {
				continue
			}
			details[k] = v
		}
		response["details"] = details
	}
	return response
}
