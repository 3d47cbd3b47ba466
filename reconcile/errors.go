/*
errors.go - Error types for the invoice control engine

PURPOSE:
  All error types in one place. Evaluation itself only fails on malformed
  input; everything else here is used by the stores and the API layer.

ERROR CATEGORIES:
  1. Input errors - Empty documents, duplicate or invalid line numbers
  2. Lookup errors - Missing purchase orders, invoices, requests
  3. State errors - Illegal status transitions, duplicate keys

SEE ALSO:
  - evaluator.go: Returns InvalidInputError
  - store.go: Returns ErrNotFound / ErrConflict
*/
package reconcile

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed documents. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced document doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a document with the same ID already exists.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidInputError describes why a document was rejected.
type InvalidInputError struct {
	Document   string // "reference" or "candidate"
	LineNumber int    // 0 when not line specific
	Reason     string
}

func (e *InvalidInputError) Error() string {
	if e.LineNumber != 0 {
		return fmt.Sprintf("invalid %s document: line %d: %s", e.Document, e.LineNumber, e.Reason)
	}
	return fmt.Sprintf("invalid %s document: %s", e.Document, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a duplicate resource.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
