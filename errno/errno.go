// Package errno wraps the POSIX errno taxonomy the storage façade needs so
// it can return a single error type that a host adapter maps directly onto
// a negative errno code.
package errno

import (
	"fmt"
	"syscall"
)

// Error pairs a syscall.Errno with an optional descriptive message. It
// implements the standard error interface and unwraps to the underlying
// syscall.Errno so callers can use errors.Is(err, syscall.ENOENT) or
// errors.Is(err, NoEntry).
type Error struct {
	Errno   syscall.Errno
	message string
}

// New creates an Error carrying the default message for code.
func New(code syscall.Errno) *Error {
	return &Error{Errno: code, message: code.Error()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Errno.Error()
}

// Unwrap lets errors.Is/errors.As see through to the underlying syscall.Errno.
func (e *Error) Unwrap() error {
	return e.Errno
}

// Is reports whether target is an *Error with the same errno code, so a
// copy made by WithMessage still matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Errno == e.Errno
}

// WithMessage returns a copy of e with a more specific message, e.g. the
// offending path, without losing the underlying errno code.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Errno: e.Errno, message: fmt.Sprintf("%s: %s", e.Errno.Error(), message)}
}

// Sentinel errors covering the filesystem's error taxonomy.
var (
	// NoEntry: path resolution failed at some component, including an
	// intermediate component that is not a directory.
	NoEntry = New(syscall.ENOENT)
	// Exists: destination path already resolves on a create/link operation.
	Exists = New(syscall.EEXIST)
	// NoSpace: block or inode allocation failed, or directory growth failed.
	NoSpace = New(syscall.ENOSPC)
	// NotEmpty: rmdir against a non-empty directory.
	NotEmpty = New(syscall.ENOTEMPTY)
	// NameTooLong: a path component is 48 bytes or longer.
	NameTooLong = New(syscall.ENAMETOOLONG)
	// NotADirectory: an operation that needs a directory (List, Rmdir) was
	// given something else. Path resolution does not use it: a non-directory
	// intermediate component is reported as NoEntry by the tree walk itself.
	NotADirectory = New(syscall.ENOTDIR)
	// IsADirectory: an operation that requires a regular file was given a
	// directory.
	IsADirectory = New(syscall.EISDIR)
	// OutOfRange marks a programmer error (an inode or block index outside
	// its valid domain), never surfaced to an external caller.
	OutOfRange = New(syscall.EINVAL)
)

// Code extracts the syscall.Errno carried by err, or 0 if err is nil. Host
// adapters use this to produce the negative errno a kernel filesystem call
// expects.
func Code(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return e.Errno
	}
	return syscall.EIO
}
