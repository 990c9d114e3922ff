// Package services implements the business rules sitting between the HTTP
// layer and persistence: definition authoring, lifecycle and validation.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNameRequired        = errors.New("definition name is required")
	ErrGraphRequired       = errors.New("definition must have a graph")
	ErrUnknownAction       = errors.New("graph references an unregistered action")
	ErrConditionExpression = errors.New("condition node has no expression")

	// Business logic conflicts (409 Conflict).
	ErrNotActivatable = errors.New("definition cannot be activated")
	ErrAlreadyDeleted = errors.New("definition already deleted")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrGraphRequired) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrConditionExpression)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotActivatable) ||
		errors.Is(err, ErrAlreadyDeleted)
}
