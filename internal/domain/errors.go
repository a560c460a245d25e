// Package domain provides shared domain-level sentinel errors and the
// operator-facing error taxonomy.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates bad operator input (URL, reference, flag combination).
var ErrValidation = errors.New("validation failed")

// Kind classifies failures that reach the operator.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAcquisition Kind = "acquisition"
	KindBranch      Kind = "branch"
	KindDivergence  Kind = "divergence"
	KindTransient   Kind = "transient"
	KindAgent       Kind = "agent"
)

// Error is a failure that is reported to the operator. It always says what
// was attempted (Op), why it likely failed (Err), and what to run next (Remedy).
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Remedy string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Op)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Report renders the full multi-line operator message including the remedy.
func (e *Error) Report() string {
	if e.Remedy == "" {
		return e.Error()
	}
	return e.Error() + "\n\n" + e.Remedy
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, op, remedy string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Remedy: remedy}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
