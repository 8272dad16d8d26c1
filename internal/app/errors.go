package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func errDuplicatePending(contentType string) *DomainError {
	return domainError(http.StatusConflict, "DUPLICATE_PENDING",
		"You already have a pending change request for this content type",
		map[string]any{"contentType": contentType})
}

func errInvalidState(operation, status string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_STATE",
		fmt.Sprintf("Cannot %s a change request in status %s", operation, status),
		map[string]any{"status": status})
}

func errClassifierUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE",
		"Classification is not configured", nil)
}

func errConflict() *DomainError {
	return domainError(http.StatusConflict, "CONFLICT",
		"The live content changed since this request was submitted; revise and resubmit", nil)
}

func errLastApprover() *DomainError {
	return domainError(http.StatusConflict, "LAST_APPROVER",
		"Cannot demote the last remaining approver", nil)
}
