package property

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("property: not found")
	// ErrUniqueViolation is returned by stores when a unique key collides.
	ErrUniqueViolation = errors.New("property: unique constraint violated")
	// ErrReferenced is returned when a delete is rejected by a foreign key.
	ErrReferenced = errors.New("property: row still referenced")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvariantViolation reports an operation that would break a structural
// guarantee of the domain.
type InvariantViolation struct {
	Entity     string
	ID         string
	Transition string
	Detail     string
}

func (e *InvariantViolation) Error() string {
	var b strings.Builder
	b.WriteString("invariant violation: ")
	b.WriteString(e.Entity)
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	if e.Transition != "" {
		b.WriteString(" (")
		b.WriteString(e.Transition)
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// ConflictError reports contention with the current state of a record.
type ConflictError struct {
	Entity string
	ID     string
	Detail string
	Err    error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict: %s %s: %s", e.Entity, e.ID, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Blocker names one dependent that prevents a deletion.
type Blocker struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (b Blocker) String() string {
	return fmt.Sprintf("%s %s: %s", b.Kind, b.ID, b.Reason)
}

// ReferentialBlock reports a deletion refused because of dependents or
// active custody.
type ReferentialBlock struct {
	Entity   string
	ID       string
	Blockers []Blocker
}

func (e *ReferentialBlock) Error() string {
	parts := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		parts = append(parts, b.String())
	}
	return fmt.Sprintf("cannot delete %s %s: %s", e.Entity, e.ID, strings.Join(parts, "; "))
}

// StorageError wraps a persistence failure. Unremoved lists dependents a
// cleanup could not scrub.
type StorageError struct {
	Op        string
	Err       error
	Unremoved []Blocker
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	if len(e.Unremoved) > 0 {
		msg += fmt.Sprintf(" (%d dependents remain)", len(e.Unremoved))
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
