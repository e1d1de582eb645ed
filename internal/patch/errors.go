package patch

import (
	"errors"
	"fmt"

	"gihan9a/docpatch/internal/document"
)

var (
	// ErrMalformedPatch marks input that could not be turned into a Patch.
	// It is detected before anything is applied.
	ErrMalformedPatch = errors.New("malformed patch")

	// ErrPathNotFound marks an operation whose path or from location does
	// not resolve against the document being patched. It is the same value
	// the document package reports, so navigation errors pass through.
	ErrPathNotFound = document.ErrNotFound

	// ErrInvalidMove marks a move into a descendant of its own source.
	ErrInvalidMove = errors.New("invalid move")

	// ErrTestFailed marks a test operation whose value did not match.
	ErrTestFailed = errors.New("test failed")
)

// OperationError ties a failure to the operation that caused it.
type OperationError struct {
	Index int
	Op    Op
	Path  string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s %q): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// TestFailedError carries the values compared by a failed test operation.
// Actual is nil when the path did not resolve.
type TestFailedError struct {
	Path     string
	Expected *document.Node
	Actual   *document.Node
}

func (e *TestFailedError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("%v: %q is missing, expected %s", ErrTestFailed, e.Path, e.Expected)
	}
	return fmt.Sprintf("%v: %q is %s, expected %s", ErrTestFailed, e.Path, e.Actual, e.Expected)
}

func (e *TestFailedError) Is(target error) bool { return target == ErrTestFailed }

func malformed(index int, op Op, path string, format string, args ...any) error {
	return &OperationError{
		Index: index,
		Op:    op,
		Path:  path,
		Err:   fmt.Errorf("%w: %s", ErrMalformedPatch, fmt.Sprintf(format, args...)),
	}
}
