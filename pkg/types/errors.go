package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component.
// Callers match with errors.Is; wrapped errors keep the sentinel reachable.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrTranslation  = errors.New("translation failed")
	ErrValidation   = errors.New("validation failed")
)

// Field validation errors
var (
	ErrInvalidUserID     = &ValidationError{Field: "user_id", Reason: "must be 1-50 characters, alphanumeric + underscore/hyphen only"}
	ErrInvalidLanguage   = &ValidationError{Field: "language", Reason: "must be a language code such as en, hi or pt-BR"}
	ErrEmptyText         = &ValidationError{Field: "text", Reason: "cannot be empty"}
	ErrTextTooLong       = &ValidationError{Field: "text", Reason: "exceeds 5000 characters"}
	ErrInvalidConfidence = &ValidationError{Field: "confidence", Reason: "must be between 0 and 1"}
	ErrInvalidRole       = &ValidationError{Field: "role", Reason: "must be teacher, student or admin"}
	ErrInvalidAction     = &ValidationError{Field: "action", Reason: "must be pause, resume or end"}
	ErrMissingClassID    = &ValidationError{Field: "class_id", Reason: "is required"}
	ErrMissingSubjectID  = &ValidationError{Field: "subject_id", Reason: "is required"}
)

// ValidationError reports an invalid input field; it matches ErrValidation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any field error
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError is returned when a teacher already has an ACTIVE session.
// ExistingSessionID lets the caller resume instead of duplicating.
type ConflictError struct {
	ExistingSessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("teacher already has an active session: %s", e.ExistingSessionID)
}

// Is lets errors.Is(err, ErrConflict) match
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
