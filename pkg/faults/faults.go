// Package faults defines the error taxonomy shared by the index, port
// resolution and workspace packages.
//
// Every failure that crosses a package boundary carries a Kind. Callers
// branch on the kind (errors.Is(err, faults.ErrNotFound), faults.KindOf(err))
// rather than on message text. Batch operations attach the 0-based position of
// the offending input with WithPosition.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation: malformed input (endpoint syntax, impedance, identical
	// signal/reference pair, no pins on a requested net).
	KindValidation Kind = "validation"
	// KindNotFound: unknown session, component or net.
	KindNotFound Kind = "not_found"
	// KindConflict: same terminal requested with incompatible parameters.
	// Only raised when strict impedance checking is enabled.
	KindConflict Kind = "conflict"
	// KindEngine: design engine, I/O or archive failure.
	KindEngine Kind = "engine"
	// KindSecurity: archive entry escaping its destination root.
	KindSecurity Kind = "security"
)

// Kind sentinels for use with errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrEngine     = &Error{Kind: KindEngine}
	ErrSecurity   = &Error{Kind: KindSecurity}
)

// NoPosition marks an error that is not tied to an input list entry.
const NoPosition = -1

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Message  string
	Position int // index into the input list, NoPosition when unset
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause. A cause classified under a different kind is
// returned behind a layer that hides it from kind sentinels, so errors.Is
// with a sentinel agrees with KindOf. errors.As still reaches it.
func (e *Error) Unwrap() error {
	var inner *Error
	if e.Err != nil && errors.As(e.Err, &inner) && inner.Kind != e.Kind {
		return reclassified{e.Err}
	}
	return e.Err
}

// Is matches kind sentinels against this error's own kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.sentinel() {
		return t.Kind == e.Kind
	}
	return t == e
}

func (e *Error) sentinel() bool { return e.Message == "" && e.Err == nil }

// reclassified carries a cause whose kind was overridden by a wrapping Error.
type reclassified struct{ err error }

func (r reclassified) Error() string { return r.err.Error() }

func (r reclassified) Is(target error) bool {
	if t, ok := target.(*Error); ok && t.sentinel() {
		return false
	}
	return errors.Is(r.err, target)
}

func (r reclassified) As(target any) bool { return errors.As(r.err, target) }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Position: NoPosition}
}

// Validationf returns a validation error.
func Validationf(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// NotFoundf returns a not-found error.
func NotFoundf(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Conflictf returns a conflict error.
func Conflictf(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// Enginef returns an engine error.
func Enginef(format string, args ...any) *Error { return newf(KindEngine, format, args...) }

// Securityf returns a security error.
func Securityf(format string, args ...any) *Error { return newf(KindSecurity, format, args...) }

// Wrap classifies err under kind with a message prefix. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Position: NoPosition, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindEngine
// for unclassified errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindEngine
}

// PositionOf returns the input position recorded anywhere in err's chain.
func PositionOf(err error) (int, bool) {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return 0, false
		}
		if fe.Position != NoPosition {
			return fe.Position, true
		}
		err = fe.Err
	}
	return 0, false
}

// WithPosition records pos on err. Classified errors keep their kind;
// unclassified errors become engine errors.
func WithPosition(err error, pos int) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.Position = pos
		return &cp
	}
	return &Error{Kind: KindEngine, Message: err.Error(), Position: pos}
}
