package rules

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)

// DefaultTemplateConflictError reports an attempt to leave an owner without
// the default it has, or to make two templates default at once. It matches
// ErrConflict under errors.Is.
type DefaultTemplateConflictError struct {
	OwnerID    string
	TemplateID string
	Reason     string
}

func (e *DefaultTemplateConflictError) Error() string {
	return fmt.Sprintf("default template conflict for template %s: %s", e.TemplateID, e.Reason)
}

func (e *DefaultTemplateConflictError) Unwrap() error { return ErrConflict }

// NotEmptyWarning is informational: the deleted template still had rules,
// which were removed with it.
type NotEmptyWarning struct {
	TemplateID string
	RuleCount  int
}

func (w *NotEmptyWarning) Error() string {
	return fmt.Sprintf("template %s was not empty: %d rules deleted with it", w.TemplateID, w.RuleCount)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
