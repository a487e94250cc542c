package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure of the runtime's own state machine, as
// opposed to the user, internal and transport kinds of package report.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Relation is the relation involved, if any.
	Relation string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNotSetUp indicates an operation that needs Setup ran first.
	ErrCodeNotSetUp RuntimeErrorCode = "NOT_SET_UP"

	// ErrCodeAlreadySetUp indicates Setup ran twice.
	ErrCodeAlreadySetUp RuntimeErrorCode = "ALREADY_SET_UP"

	// ErrCodeClosed indicates an operation on a closed runtime.
	ErrCodeClosed RuntimeErrorCode = "CLOSED"

	// ErrCodeBadRelation indicates AddOutput or AddView got SQL that
	// does not define a relation of the requested kind.
	ErrCodeBadRelation RuntimeErrorCode = "BAD_RELATION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("%s: %s (relation=%s)", e.Code, e.Message, e.Relation)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err wraps a RuntimeError with code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func errNotSetUp() error {
	return &RuntimeError{Code: ErrCodeNotSetUp, Message: "runtime is not set up"}
}

func errClosed() error {
	return &RuntimeError{Code: ErrCodeClosed, Message: "runtime is closed"}
}
