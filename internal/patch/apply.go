package patch

import (
	"fmt"
	"strconv"

	"gihan9a/docpatch/internal/document"
)

// Apply runs p against doc. Operations are evaluated in order, each against
// the result of the previous one. On success the returned document carries
// doc.Version+1; on failure doc is unchanged and the error is an
// *OperationError.
func Apply(doc *document.Document, p Patch) (*document.Document, error) {
	next, _, err := ApplyWithInverse(doc, p)
	return next, err
}

// ApplyWithInverse is Apply that also returns a patch which, applied to the
// result, restores the root of doc.
func ApplyWithInverse(doc *document.Document, p Patch) (*document.Document, Patch, error) {
	root := doc.Root
	undo := make([]Patch, 0, len(p))
	for i, op := range p {
		next, u, err := applyOne(root, op)
		if err != nil {
			return nil, nil, &OperationError{Index: i, Op: op.Op, Path: op.Path.String(), Err: err}
		}
		root = next
		undo = append(undo, u)
	}

	var inverse Patch
	for i := len(undo) - 1; i >= 0; i-- {
		inverse = append(inverse, undo[i]...)
	}
	return doc.Next(root), inverse, nil
}

func applyOne(root *document.Node, op Operation) (*document.Node, Patch, error) {
	switch op.Op {
	case Add:
		return add(root, op.Path, op.Value)
	case Remove:
		out, ch, err := document.Remove(root, op.Path)
		if err != nil {
			return nil, nil, err
		}
		if op.Path.IsRoot() {
			return out, Patch{{Op: Replace, Value: ch.Old}}, nil
		}
		return out, Patch{{Op: Add, Path: insertionPoint(out, ch.At), Value: ch.Old}}, nil
	case Replace:
		out, ch, err := document.Replace(root, op.Path, op.Value)
		if err != nil {
			return nil, nil, err
		}
		return out, Patch{{Op: Replace, Path: ch.At, Value: ch.Old}}, nil
	case Move:
		return move(root, op.From, op.Path)
	case Copy:
		v, r := document.Lookup(root, op.From)
		if r == document.NotFound {
			return nil, nil, fmt.Errorf("%w: from %q does not resolve", ErrPathNotFound, op.From)
		}
		return add(root, op.Path, document.Clone(v))
	case Test:
		actual, r := document.Lookup(root, op.Path)
		if r == document.NotFound {
			return nil, nil, &TestFailedError{Path: op.Path.String(), Expected: op.Value}
		}
		if !document.Equal(actual, op.Value) {
			return nil, nil, &TestFailedError{Path: op.Path.String(), Expected: op.Value, Actual: actual}
		}
		return root, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown op %q", ErrMalformedPatch, op.Op)
}

func add(root *document.Node, path document.Pointer, v *document.Node) (*document.Node, Patch, error) {
	out, ch, err := document.Insert(root, path, v)
	if err != nil {
		return nil, nil, err
	}
	return out, undoInsert(ch), nil
}

// undoInsert reverses an insertion described by ch.
func undoInsert(ch document.Change) Patch {
	if ch.At.IsRoot() || ch.Old != nil {
		return Patch{{Op: Replace, Path: ch.At, Value: ch.Old}}
	}
	return Patch{{Op: Remove, Path: ch.At}}
}

func move(root *document.Node, from, path document.Pointer) (*document.Node, Patch, error) {
	if path.IsStrictDescendantOf(from) {
		return nil, nil, fmt.Errorf("%w: %q is inside %q", ErrInvalidMove, path, from)
	}
	v, r := document.Lookup(root, from)
	if r == document.NotFound {
		return nil, nil, fmt.Errorf("%w: from %q does not resolve", ErrPathNotFound, from)
	}
	if from.Equal(path) {
		return root, nil, nil
	}
	if path.IsRoot() {
		return v, Patch{{Op: Replace, Value: root}}, nil
	}

	removed, rm, err := document.Remove(root, from)
	if err != nil {
		return nil, nil, err
	}
	out, ins, err := document.Insert(removed, path, v)
	if err != nil {
		return nil, nil, err
	}

	// Undo as remove+add rather than a move: the reverse move may point into
	// its own source when the destination was an ancestor of from.
	undo := append(undoInsert(ins), Operation{Op: Add, Path: insertionPoint(removed, rm.At), Value: v})
	return out, undo, nil
}

// insertionPoint rewrites at so that an add at the result re-creates the
// element at that position in root, using the append marker when at
// addresses one past the end of an array.
func insertionPoint(root *document.Node, at document.Pointer) document.Pointer {
	if at.IsRoot() {
		return at
	}
	parent, r := document.Lookup(root, at.Parent())
	if r == document.Found && parent.Kind() == document.ArrayKind && at.Last() == strconv.Itoa(parent.Len()) {
		return at.Parent().Child(document.AppendToken)
	}
	return at
}
