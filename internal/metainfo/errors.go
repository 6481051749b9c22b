package metainfo

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic means the file does not start with the sidecar magic
	ErrBadMagic = errors.New("bad magic")
	// ErrVersionSkew means the file was written by another format version
	ErrVersionSkew = errors.New("version skew")
	// ErrHeaderSize means the recorded header size differs from ours
	ErrHeaderSize = errors.New("header size mismatch")
	// ErrItemShape means a list's item size differs from the reader's expectation
	ErrItemShape = errors.New("item shape mismatch")
	// ErrTruncated means the file ended before a section it declares
	ErrTruncated = errors.New("truncated")
	// ErrCorrupt covers every other inconsistency between size fields and content
	ErrCorrupt = errors.New("corrupt")

	// ErrStale means the record does not match the live dependencies
	ErrStale = errors.New("stale")
)

// FormatError reports a sidecar that cannot be used. It is never fatal to a
// build: the entry is treated as absent and the object is rebuilt.
type FormatError struct {
	// Err is one of the ErrBadMagic ... ErrCorrupt sentinels
	Err error
	// List is the offending list, or -1 when the problem is not list specific
	List ListKind
	// Detail is a human readable description
	Detail string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.List >= 0 {
		return fmt.Sprintf("info format: %v in %s list: %s", e.Err, e.List, e.Detail)
	}
	return fmt.Sprintf("info format: %v: %s", e.Err, e.Detail)
}

// Unwrap returns the sentinel so errors.Is works on FormatError values
func (e *FormatError) Unwrap() error {
	return e.Err
}

func newFormatError(sentinel error, format string, args ...any) *FormatError {
	return &FormatError{Err: sentinel, List: -1, Detail: fmt.Sprintf(format, args...)}
}

func newListError(sentinel error, list ListKind, format string, args ...any) *FormatError {
	return &FormatError{Err: sentinel, List: list, Detail: fmt.Sprintf(format, args...)}
}

// StaleError reports the first dependency that makes a record unusable.
type StaleError struct {
	Name   string
	Reason string
}

// Error implements the error interface
func (e *StaleError) Error() string {
	return fmt.Sprintf("stale dependency %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrStale
func (e *StaleError) Unwrap() error {
	return ErrStale
}

// IsUnusable reports whether err only means "no usable cache entry"
func IsUnusable(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe) || errors.Is(err, ErrStale)
}
