// Package ocerr implements OpenCluster's error taxonomy (spec §7) as a
// typed, tagged error value, the same shape as the teacher's errs
// package (a category tag plus a message, rather than ad hoc
// errors.New strings) adapted from NETCONF's RFC 6241 error layers to
// the bucket-management subsystem's own categories.
package ocerr

import "fmt"

// Category classifies an OpenCluster error so callers can branch on it
// with errors.As instead of string matching.
type Category string

const (
	// CategoryMalformedFrame: the wire frame could not be decoded; the
	// connection must be closed.
	CategoryMalformedFrame Category = "malformed-frame"
	// CategoryUnknownCommand: the command code isn't recognized; the
	// connection stays open and an UNKNOWN reply is sent.
	CategoryUnknownCommand Category = "unknown-command"
	// CategoryRouting: a GET/SET landed on a bucket this node doesn't
	// own at the requested level.
	CategoryRouting Category = "routing"
	// CategoryMigrationConflict: a migration request collided with an
	// in-progress transfer.
	CategoryMigrationConflict Category = "migration-conflict"
	// CategoryTimeout: an in-flight request exceeded its deadline.
	CategoryTimeout Category = "timeout"
	// CategoryFatal: an unrecoverable logic error; the process should
	// abort and let a supervisor restart it.
	CategoryFatal Category = "fatal"
)

// Error is OpenCluster's typed error value.
type Error struct {
	Category Category
	Message  string
	// Cause, if set, is the underlying error being wrapped.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no underlying cause.
func New(cat Category, message string) *Error {
	return &Error{Category: cat, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(cat Category, message string, cause error) *Error {
	return &Error{Category: cat, Message: message, Cause: cause}
}

// MalformedFrame builds a CategoryMalformedFrame error.
func MalformedFrame(format string, args ...interface{}) *Error {
	return New(CategoryMalformedFrame, fmt.Sprintf(format, args...))
}

// UnknownCommand builds a CategoryUnknownCommand error.
func UnknownCommand(cmd uint16) *Error {
	return New(CategoryUnknownCommand, fmt.Sprintf("unrecognized command code %d", cmd))
}

// Routing builds a CategoryRouting error.
func Routing(format string, args ...interface{}) *Error {
	return New(CategoryRouting, fmt.Sprintf(format, args...))
}

// MigrationConflict builds a CategoryMigrationConflict error.
func MigrationConflict(format string, args ...interface{}) *Error {
	return New(CategoryMigrationConflict, fmt.Sprintf(format, args...))
}

// Timeout builds a CategoryTimeout error.
func Timeout(format string, args ...interface{}) *Error {
	return New(CategoryTimeout, fmt.Sprintf(format, args...))
}

// Fatal builds a CategoryFatal error.
func Fatal(format string, args ...interface{}) *Error {
	return New(CategoryFatal, fmt.Sprintf(format, args...))
}

// Is reports whether err (or something it wraps) is an *Error of cat.
func Is(err error, cat Category) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Category == cat {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
