package models

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeDispatchFailure   ErrorCode = "DISPATCH_FAILURE"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
)

// AppError is the error type returned by the service layer. Two AppErrors
// match under errors.Is when their codes are equal, so callers compare
// against the sentinels below.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound          = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrInvalidTransition = &AppError{Code: CodeInvalidTransition, Message: "invalid state transition"}
	ErrValidation        = &AppError{Code: CodeValidation, Message: "validation failed"}
	ErrQuotaExceeded     = &AppError{Code: CodeQuotaExceeded, Message: "quota exceeded"}
	ErrDispatchFailure   = &AppError{Code: CodeDispatchFailure, Message: "dispatch failed"}
	ErrConflict          = &AppError{Code: CodeConflict, Message: "resource conflict"}
	ErrUnauthorized      = &AppError{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden         = &AppError{Code: CodeForbidden, Message: "forbidden"}
)

// NewNotFound is also returned for rows owned by another tenant.
func NewNotFound(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, id),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

func NewInvalidTransition(entity, current, action string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot %s %s in status %s", action, entity, current),
		Details: map[string]any{"current_status": current, "action": action},
	}
}

func NewValidation(message string, fields map[string]string) *AppError {
	err := &AppError{Code: CodeValidation, Message: message}
	if len(fields) > 0 {
		details := make(map[string]any, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		err.Details = details
	}
	return err
}

func NewQuotaExceeded(resource string, limit, requested int) *AppError {
	return &AppError{
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("%s limit of %d reached", resource, limit),
		Details: map[string]any{"resource": resource, "limit": limit, "requested": requested},
	}
}

func NewDispatchFailure(campaignLeadID uint, step int, cause error) *AppError {
	return &AppError{
		Code:    CodeDispatchFailure,
		Message: fmt.Sprintf("dispatch of step %d for campaign lead %d failed", step, campaignLeadID),
		Details: map[string]any{"campaign_lead_id": campaignLeadID, "step": step},
		Err:     cause,
	}
}

func NewConflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

// AsAppError extracts the AppError in err's chain, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
