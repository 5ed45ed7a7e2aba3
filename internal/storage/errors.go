// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures.
type ErrorCode int

const (
	// CodeUnknown is used for errors that do not carry a code.
	CodeUnknown ErrorCode = iota
	// CodeLockTimeout means a write lock was not acquired in time. Retryable.
	CodeLockTimeout
	// CodeDuplicateKey means a unique index already holds the key.
	CodeDuplicateKey
	// CodeCorruption means a page failed validation or could not be read.
	CodeCorruption
	// CodeNotSupported means the operation is not allowed in this mode.
	CodeNotSupported
	// CodeResourceExhausted means the cache or the file size limit is exhausted.
	CodeResourceExhausted
	// CodeInvalidArgument means the caller passed an unusable value.
	CodeInvalidArgument
	// CodeNotFound means a collection, index or document does not exist.
	CodeNotFound
	// CodeFaulted means the engine hit an unrecoverable error and must be reopened.
	CodeFaulted
)

// String returns the string representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeCorruption:
		return "Corruption"
	case CodeNotSupported:
		return "NotSupported"
	case CodeResourceExhausted:
		return "ResourceExhausted"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Sentinel errors, one per code. Use errors.Is against these to classify
// an *Error returned by any engine operation.
var (
	ErrLockTimeout       = &Error{Code: CodeLockTimeout}
	ErrDuplicateKey      = &Error{Code: CodeDuplicateKey}
	ErrCorruption        = &Error{Code: CodeCorruption}
	ErrNotSupported      = &Error{Code: CodeNotSupported}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrFaulted           = &Error{Code: CodeFaulted}
)

// Error is the typed failure returned by engine operations. It carries the
// failure code plus the page and collection it happened on, when known.
type Error struct {
	Code       ErrorCode
	Op         string
	Collection string
	PageID     PageID
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Collection != "" {
		msg += fmt.Sprintf(" collection=%q", e.Collection)
	}
	if e.PageID != 0 {
		msg += fmt.Sprintf(" page=%d", e.PageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an *Error for op with the given code and cause.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(code ErrorCode, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CorruptPage reports a page that failed validation.
func CorruptPage(op string, id PageID, err error) *Error {
	return &Error{Code: CodeCorruption, Op: op, PageID: id, Err: err}
}

// CodeOf extracts the ErrorCode of err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// WithCollection annotates err with a collection name when it is an *Error
// that does not have one yet.
func WithCollection(err error, collection string) error {
	var e *Error
	if !errors.As(err, &e) || e.Collection != "" {
		return err
	}
	c := *e
	c.Collection = collection
	return &c
}
