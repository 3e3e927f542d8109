package domain

import "errors"

// Error kinds. Anything that does not wrap one of these is an
// infrastructure failure.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Error is a business-rule failure carrying a human-readable message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// NotFound returns an ErrNotFound failure with the given message.
func NotFound(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }

// InvalidArgument returns an ErrInvalidArgument failure with the given message.
func InvalidArgument(msg string) error { return &Error{Kind: ErrInvalidArgument, Msg: msg} }

// Forbidden returns an ErrForbidden failure with the given message.
func Forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

// Unauthenticated returns an ErrUnauthenticated failure with the given message.
func Unauthenticated(msg string) error { return &Error{Kind: ErrUnauthenticated, Msg: msg} }

// IsBusiness reports whether err is a business-rule failure that should be
// returned to the caller as data instead of a transport fault.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrForbidden)
}
