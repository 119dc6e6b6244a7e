// Package fault classifies the errors produced by the swap protocol. Every
// sentinel error in the repository is a *Error with a Kind, so callers dispatch
// on the kind and only HTTP or log boundaries look at the message text.
package fault

import (
	"errors"
	"net/http"
)

// Kind is the closed set of error classes.
type Kind uint8

const (
	// Unknown is returned by KindOf for errors that were not produced by this package.
	Unknown Kind = iota

	// Validation errors are bad input (signature, deadline, predicate). Never retried.
	Validation

	// Authorization errors come from a caller that is not allowed to act.
	Authorization

	// Conflict errors are expected under resolver competition, e.g. an order
	// that was already filled. They must not be logged as abnormal.
	Conflict

	// Transient errors are infrastructure failures that may succeed on the next attempt.
	Transient

	// FundSafety errors guard invariants whose violation could lose funds.
	FundSafety
)

func (kind Kind) String() string {
	switch kind {
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case FundSafety:
		return "fund-safety"
	default:
		return "unknown"
	}
}

// Error is a classified error. Its message is the legacy revert string.
type Error struct {
	Kind    Kind
	Message string
}

// New returns a classified sentinel error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code returned by the coordinator API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Authorization:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case Transient:
		return http.StatusServiceUnavailable
	case FundSafety:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
