// Package apperr defines the error kinds shared by the scheduling core.
// Callers branch on kinds with errors.Is against the sentinel values, e.g.
//
//	if errors.Is(err, apperr.ErrSlotUnavailable) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how a caller should react to it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindSlotUnavailable
	KindConflict
	KindTimeout
	KindTransport
	KindInvalidStateTransition
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindValidation:             "validation",
	KindNotFound:               "not_found",
	KindSlotUnavailable:        "slot_unavailable",
	KindConflict:               "conflict",
	KindTimeout:                "timeout",
	KindTransport:              "transport",
	KindInvalidStateTransition: "invalid_state_transition",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified error. Op names the failing operation
// (e.g. "calendar.create"), Msg is safe to show to API clients.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrSlotUnavailable        = &Error{Kind: KindSlotUnavailable}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrTimeout                = &Error{Kind: KindTimeout}
	ErrTransport              = &Error{Kind: KindTransport}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
)

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error for the named entity.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Msg: entity + " not found"}
}

// SlotUnavailable returns a KindSlotUnavailable error with a formatted message.
func SlotUnavailable(format string, args ...interface{}) error {
	return &Error{Kind: KindSlotUnavailable, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports a forbidden appointment status change.
func InvalidTransition(from, to string) error {
	return &Error{
		Kind: KindInvalidStateTransition,
		Msg:  fmt.Sprintf("cannot transition appointment from %q to %q", from, to),
	}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is a timeout or transport failure that is
// safe to retry with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransport:
		return true
	}
	return false
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSlotUnavailable, KindConflict, KindInvalidStateTransition:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing message for err. Unclassified errors
// get a generic message so internals don't leak.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case KindSlotUnavailable:
		if e.Msg != "" {
			return e.Msg + "; please select another time"
		}
		return "the selected slot is no longer available; please select another time"
	case KindTimeout:
		return "the scheduling store did not respond in time; please retry"
	case KindTransport:
		return "the scheduling store is unreachable; please retry"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}
