package sql

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify failures with errors.Is.
var (
	// ErrWriteConflict surfaces a lost write-write race at commit.
	ErrWriteConflict = errors.New("write conflict")
	// ErrAmbiguousColumn means an unqualified column name matched more
	// than one table in scope.
	ErrAmbiguousColumn = errors.New("ambiguous column")
	// ErrTypeMismatch means operands of incompatible types met in an
	// expression or assignment.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrConstraintViolation covers duplicate primary keys and NOT NULL
	// violations.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrExecutionAborted means a statement failed mid-flight; its
	// buffered writes were discarded and the transaction stays usable.
	ErrExecutionAborted = errors.New("execution aborted")
	// ErrParse wraps lexer and parser failures.
	ErrParse = errors.New("parse error")
)

func ambiguousColumnErr(name string) error {
	return fmt.Errorf("%w: %s", ErrAmbiguousColumn, name)
}

func typeMismatchErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTypeMismatch, fmt.Sprintf(format, args...))
}

func constraintErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

func parseErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}
