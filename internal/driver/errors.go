package driver

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed build attempt
type ErrorKind string

const (
	// KindInvalidSource means the input unit or request is malformed
	KindInvalidSource ErrorKind = "invalid_source"
	// KindLink means the runtime support module could not be linked
	KindLink ErrorKind = "link"
	// KindLock means an exclusive path lock could not be acquired
	KindLock ErrorKind = "lock"
	// KindCompile means the compiler rejected the unit or its settings
	KindCompile ErrorKind = "compile"
	// KindIO means reading or publishing a cache file failed
	KindIO ErrorKind = "io"
)

// Sentinels matched by errors.Is against a *BuildError of the same kind
var (
	ErrInvalidSource = errors.New("invalid source")
	ErrLink          = errors.New("link failed")
	ErrLock          = errors.New("lock failed")
	ErrCompile       = errors.New("compile failed")
	ErrIO            = errors.New("i/o failed")
)

// ErrNotCached means there is no usable cache entry for a request
var ErrNotCached = errors.New("not cached")

// Sentinel returns the sentinel error of the kind
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindInvalidSource:
		return ErrInvalidSource
	case KindLink:
		return ErrLink
	case KindLock:
		return ErrLock
	case KindCompile:
		return ErrCompile
	default:
		return ErrIO
	}
}

// Retryable reports whether retrying the whole build may succeed without
// changing its inputs
func (k ErrorKind) Retryable() bool {
	return k == KindLock
}

// Suggestion returns a hint for resolving a failure of this kind
func (k ErrorKind) Suggestion() string {
	switch k {
	case KindInvalidSource:
		return "Check the bitcode file and its facts manifest"
	case KindLink:
		return "Check that the runtime library exists and matches the toolchain"
	case KindLock:
		return "Another build holds the output; retry once it finishes"
	case KindCompile:
		return "Run with --dump-ir and inspect the compiler output"
	default:
		return "Check permissions and free space in the cache directory"
	}
}

// BuildError is the single error a failed attempt carries.
type BuildError struct {
	// State is the state the attempt failed in
	State State
	// Kind classifies the failure
	Kind ErrorKind
	// Path is the file involved, if any
	Path string
	// Err is the underlying cause
	Err error
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s while %s: %v", e.Path, e.Kind.Sentinel(), e.State, e.Err)
	}
	return fmt.Sprintf("%s while %s: %v", e.Kind.Sentinel(), e.State, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause
func (e *BuildError) Unwrap() []error {
	return []error{e.Kind.Sentinel(), e.Err}
}

// KindOf returns the kind of a *BuildError in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}
