// Package apperrors enthält die Fehlertaxonomie des Dienstes.
// Handler und Worker unterscheiden Fehlerarten ausschließlich über errors.Is/errors.As.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrStaleTransition   = errors.New("stale status transition")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCursor     = errors.New("invalid pagination cursor")
	ErrPayloadTooLarge   = errors.New("payload too large")
)

// ValidationError beschreibt eine vom Client verursachte, ungültige Eingabe.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s, got: %v", e.Field, e.Message, e.Value)
}

// NewValidationError erzeugt einen ValidationError ohne Wertangabe.
func NewValidationError(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// DependencyError kapselt Fehler von Blob Store oder Record Store.
type DependencyError struct {
	Op  string
	Err error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e DependencyError) Unwrap() error {
	return e.Err
}

// Dependency wickelt err als DependencyError ein. Sentinel-Fehler wie
// ErrNotFound oder ErrConflict bleiben über errors.Is erreichbar.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	return DependencyError{Op: op, Err: err}
}

// IsValidation meldet, ob err eine Client-Eingabe betrifft.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsDependency meldet, ob err von einem externen Speicher stammt.
func IsDependency(err error) bool {
	var de DependencyError
	return errors.As(err, &de)
}
