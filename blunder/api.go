// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to attach an errno value to Go errors while still
// conforming to the Go error interface. Errors carry a stack trace so that the
// origin of a failure reported many layers up (e.g. inside a per-request status
// array returned by a batch read) can still be located.
//
// This package is implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// FsError values are linux/POSIX errnos as defined in errno.h.
//
// NOTE: unix.Errno is used here because they are errno constants that exist in Go-land.
//       It is cast to an int to get the errno value.
//
type FsError int

const (
	NotPermError         FsError = FsError(int(unix.EPERM))     // Operation not permitted
	NotFoundError        FsError = FsError(int(unix.ENOENT))    // No such file or directory
	IOError              FsError = FsError(int(unix.EIO))       // I/O error
	BadFileError         FsError = FsError(int(unix.EBADF))     // Bad file number
	TryAgainError        FsError = FsError(int(unix.EAGAIN))    // Try again
	DevBusyError         FsError = FsError(int(unix.EBUSY))     // Device or resource busy
	FileExistsError      FsError = FsError(int(unix.EEXIST))    // File exists
	InvalidArgError      FsError = FsError(int(unix.EINVAL))    // Invalid argument
	FileTooLargeError    FsError = FsError(int(unix.EFBIG))     // File too large
	OutOfRangeError      FsError = FsError(int(unix.ERANGE))    // Math result not representable
	NotSupportedError    FsError = FsError(int(unix.ENOTSUP))   // Operation not supported
	NoDataError          FsError = FsError(int(unix.ENODATA))   // No data available
	TimedOut             FsError = FsError(int(unix.ETIMEDOUT)) // Connection Timed Out
	AlreadyCompleteError FsError = FsError(int(unix.EALREADY))  // Operation already in progress
	CanceledError        FsError = FsError(int(unix.ECANCELED)) // Operation Canceled
)

// Errors that map to constants already defined above
const (
	AlreadyExistsError FsError = FileExistsError
	InvalidRangeError  FsError = InvalidArgError
	TransportError     FsError = IOError
	TimeoutError       FsError = TimedOut
	LaminatedError     FsError = InvalidArgError
	BatchNotFoundError FsError = NotFoundError
)

// SuccessError is the FsError of a nil error
const SuccessError FsError = 0

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

const errnoKey = "errno"

// Value returns the int value for the specified FsError constant
func (err FsError) Value() int {
	return int(err)
}

// String returns the errno's symbolic description (e.g. "no such file or directory")
func (err FsError) String() string {
	if SuccessError == err {
		return "success"
	}
	return unix.Errno(err).Error()
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue))
}

// AddError is used to add FS error detail to a Go error.
//
// A nil e yields a fresh error so the caller's intent to fail is honored.
//
func AddError(e error, errValue FsError) error {
	if nil == e {
		return merry.New(errValue.String()).WithValue(errnoKey, int(errValue))
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errValue))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	var (
		errno      int
		errnoAsInt int
		errnoAsIF  interface{}
		ok         bool
	)

	if nil == e {
		return successErrno
	}

	errno = failureErrno

	errnoAsIF = merry.Value(e, errnoKey)
	if nil != errnoAsIF {
		errnoAsInt, ok = errnoAsIF.(int)
		if ok {
			errno = errnoAsInt
		}
	}

	return errno
}

// ErrorString returns e's message followed by its errno value (if any).
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	if nil == merry.Value(e, errnoKey) {
		return e.Error()
	}

	return fmt.Sprintf("%s. Error Value: %v", e.Error(), Errno(e))
}

// Is checks if an error matches a particular FsError
//
// NOTE: Because the value of the underlying errno is used to do this check, one cannot
//       use this API to distinguish between FsErrors that use the same errno value
//       (e.g. InvalidRangeError vs. InvalidArgError).
//
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FsError
func IsNot(e error, theError FsError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success FsError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error is NOT the success FsError
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

// Location returns the file and line number of the code that generated the error.
// Returns zero values if e has no stacktrace.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// SourceLine returns the string representation of Location's result
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace wraps merry.Stacktrace, which returns error stacktrace (if set) in a string.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
