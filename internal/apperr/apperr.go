// Package apperr defines the error kinds shared by the checkout pipeline and its consumers.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	NotFound
	InvalidState
	MalformedMessage
	StorageFailure
	PartialDispatchFailure
	DeliveryDispatchFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case InvalidState:
		return "INVALID_STATE"
	case MalformedMessage:
		return "MALFORMED_MESSAGE"
	case StorageFailure:
		return "STORAGE_FAILURE"
	case PartialDispatchFailure:
		return "PARTIAL_DISPATCH_FAILURE"
	case DeliveryDispatchFailure:
		return "DELIVERY_DISPATCH_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error found in err's tree.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether any *Error in err's tree has the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok && e.Kind == kind {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if Is(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(x.Unwrap(), kind)
	}
	return false
}

// DispatchError lists every item index whose reservation message was not accepted.
type DispatchError struct {
	FailedIndices []int
	Causes        []error
}

func NewDispatchError(causes map[int]error) *DispatchError {
	d := &DispatchError{}
	for idx := range causes {
		d.FailedIndices = append(d.FailedIndices, idx)
	}
	sort.Ints(d.FailedIndices)
	for _, idx := range d.FailedIndices {
		d.Causes = append(d.Causes, causes[idx])
	}
	return d
}

func (d *DispatchError) Error() string {
	return fmt.Sprintf("%d reservation message(s) not accepted at item indices %v: %v",
		len(d.FailedIndices), d.FailedIndices, errors.Join(d.Causes...))
}

func (d *DispatchError) Unwrap() []error { return d.Causes }

// FailedIndices extracts the failed item indices from a PartialDispatchFailure, if any.
func FailedIndices(err error) []int {
	var d *DispatchError
	if errors.As(err, &d) {
		return d.FailedIndices
	}
	return nil
}
