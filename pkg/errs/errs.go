// Package errs defines the failure taxonomy shared by every engine component.
//
// Component packages keep their own error types (ValidationError, ParseError, ...)
// and expose their category through a Kind method. KindOf walks the wrap chain
// to find it, so callers never have to know the concrete type.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidProfile
	KindConnectFailure
	KindNoSession
	KindNotFound
	KindValidation
	KindParse
	KindCoercion
	KindCancelled
	KindEngine
)

var kindNames = map[Kind]string{
	KindUnknown:        "Unknown",
	KindInvalidProfile: "InvalidProfile",
	KindConnectFailure: "ConnectFailure",
	KindNoSession:      "NoSession",
	KindNotFound:       "NotFound",
	KindValidation:     "ValidationError",
	KindParse:          "ParseError",
	KindCoercion:       "CoercionError",
	KindCancelled:      "Cancelled",
	KindEngine:         "EngineError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Kinded is implemented by errors that know their category.
type Kinded interface {
	Kind() Kind
}

// Error is the generic taxonomy error. Op names the failing operation,
// Subject the offending identifier (table, column, session id, ...).
type Error struct {
	K       Kind
	Op      string
	Subject string
	Err     error
}

// E builds an *Error.
func E(kind Kind, op, subject string, err error) *Error {
	return &Error{K: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Kind() Kind { return e.K }

func (e *Error) Error() string {
	msg := e.K.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg += fmt.Sprintf(" %q", e.Subject)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, errs.ErrNoSession) works
// for any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Subject == "" && t.Err == nil && t.K == e.K
}

var (
	ErrNoSession = &Error{K: KindNoSession}
	ErrNotFound  = &Error{K: KindNotFound}
	ErrCancelled = &Error{K: KindCancelled}
)

// KindOf returns the kind of the first Kinded error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Translate keeps an already classified error as is and classifies anything
// else as kind.
func Translate(kind Kind, op, subject string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return E(kind, op, subject, err)
}
