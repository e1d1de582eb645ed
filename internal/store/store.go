// Package store persists documents with optimistic concurrency.
//
// Every driver implements the same compare-and-swap contract: a write names
// the version it expects to replace, 0 meaning the document must not exist,
// and is rejected with ErrVersionConflict if the stored version differs.
package store

import (
	"context"
	"errors"
	"fmt"

	"gihan9a/docpatch/internal/document"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidWrite    = errors.New("invalid write")
)

// Store is the persistence contract used by the coordinator.
type Store interface {
	// Read returns the latest committed document or ErrNotFound.
	Read(ctx context.Context, id string) (*document.Document, error)

	// ConditionalWrite stores doc only if the current version of id equals
	// expected. It returns ErrVersionConflict otherwise.
	ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error

	Close() error
}

func validateWrite(id string, expected int64, doc *document.Document) error {
	switch {
	case doc == nil:
		return fmt.Errorf("%w: nil document", ErrInvalidWrite)
	case id == "":
		return fmt.Errorf("%w: empty id", ErrInvalidWrite)
	case doc.ID != id:
		return fmt.Errorf("%w: document id %q written as %q", ErrInvalidWrite, doc.ID, id)
	case expected < 0:
		return fmt.Errorf("%w: negative expected version %d", ErrInvalidWrite, expected)
	case doc.Version <= expected:
		return fmt.Errorf("%w: version %d does not advance %d", ErrInvalidWrite, doc.Version, expected)
	}
	return nil
}

func conflict(id string, expected, actual int64) error {
	return fmt.Errorf("%w: %q is at version %d, expected %d", ErrVersionConflict, id, actual, expected)
}
