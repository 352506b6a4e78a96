package app

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
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

var (
	errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

// invalidInput turns ozzo validation errors into a 400 with per-field
// details. Other errors keep their message.
func invalidInput(code string, err error) *DomainError {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return domainError(http.StatusBadRequest, code, "Validation failed", fieldErrs)
	}
	return domainError(http.StatusBadRequest, code, err.Error(), nil)
}
