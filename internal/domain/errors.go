package domain

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates domain failures so callers can branch on them
type ErrorKind string

const (
	KindInvalidConfiguration    ErrorKind = "InvalidConfiguration"
	KindDataStale               ErrorKind = "DataStale"
	KindInfeasiblePlan          ErrorKind = "InfeasiblePlan"
	KindInvalidTransition       ErrorKind = "InvalidTransition"
	KindChainIntegrityViolation ErrorKind = "ChainIntegrityViolation"
	KindNoActionNeeded          ErrorKind = "NoActionNeeded"
	KindNotFound                ErrorKind = "NotFound"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidConfiguration    = &Error{Kind: KindInvalidConfiguration}
	ErrDataStale               = &Error{Kind: KindDataStale}
	ErrInfeasiblePlan          = &Error{Kind: KindInfeasiblePlan}
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrChainIntegrityViolation = &Error{Kind: KindChainIntegrityViolation}
	ErrNoActionNeeded          = &Error{Kind: KindNoActionNeeded}
	ErrNotFound                = &Error{Kind: KindNotFound}
)

// Error is a typed domain failure
type Error struct {
	Kind       ErrorKind
	Op         string
	Message    string
	Violations []DriftRecord
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind only, so errors.Is(err, ErrDataStale) works for any stale error
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a domain error with a formatted message
func NewError(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InfeasiblePlan builds an InfeasiblePlan error carrying the violations that could not be addressed
func InfeasiblePlan(op string, violations []DriftRecord, format string, args ...interface{}) *Error {
	e := NewError(KindInfeasiblePlan, op, format, args...)
	e.Violations = append([]DriftRecord(nil), violations...)
	return e
}

// KindOf returns the kind of a domain error, or "" for anything else
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
