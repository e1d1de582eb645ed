// Package patch parses and applies JSON-Patch style operations to documents.
//
// A Patch is validated once by Parse or Decode and can then be applied any
// number of times. Application never mutates the input document: it either
// returns a complete successor or an *OperationError naming the failing
// operation.
package patch

import (
	"encoding/json"
	"fmt"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/pkg/patchproto"
)

// Op names an operation.
type Op string

const (
	Add     Op = "add"
	Remove  Op = "remove"
	Replace Op = "replace"
	Move    Op = "move"
	Copy    Op = "copy"
	Test    Op = "test"
)

func (o Op) valid() bool {
	switch o {
	case Add, Remove, Replace, Move, Copy, Test:
		return true
	}
	return false
}

func (o Op) needsValue() bool { return o == Add || o == Replace || o == Test }

func (o Op) needsFrom() bool { return o == Move || o == Copy }

// Operation is one validated patch instruction. From is only meaningful
// for move and copy; Value only for add, replace and test.
type Operation struct {
	Op    Op
	Path  document.Pointer
	From  document.Pointer
	Value *document.Node
}

// Patch is an ordered list of operations applied as one unit.
type Patch []Operation

// Decode parses a JSON array of wire operations.
func Decode(data []byte) (Patch, error) {
	var ops []patchproto.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
	}
	return Parse(ops)
}

// Parse validates wire operations. Only syntax is checked here; whether a
// path resolves depends on the document and is decided by Apply.
func Parse(ops []patchproto.Operation) (Patch, error) {
	out := make(Patch, 0, len(ops))
	for i, w := range ops {
		op, err := parseOne(i, w)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

func parseOne(i int, w patchproto.Operation) (Operation, error) {
	op := Op(w.Op)
	if !op.valid() {
		return Operation{}, malformed(i, op, w.Path, "unknown op %q", w.Op)
	}
	path, err := document.ParsePointer(w.Path)
	if err != nil {
		return Operation{}, malformed(i, op, w.Path, "path: %v", err)
	}
	out := Operation{Op: op, Path: path}

	if op.needsFrom() {
		if w.From == nil {
			return Operation{}, malformed(i, op, w.Path, "%s requires from", op)
		}
		from, err := document.ParsePointer(*w.From)
		if err != nil {
			return Operation{}, malformed(i, op, w.Path, "from: %v", err)
		}
		out.From = from
	}

	if op.needsValue() {
		if len(w.Value) == 0 {
			return Operation{}, malformed(i, op, w.Path, "%s requires value", op)
		}
		v, err := document.Parse(w.Value)
		if err != nil {
			return Operation{}, malformed(i, op, w.Path, "value: %v", err)
		}
		out.Value = v
	}
	return out, nil
}

// Wire converts the operation back into its wire form.
func (o Operation) Wire() (patchproto.Operation, error) {
	w := patchproto.Operation{Op: string(o.Op), Path: o.Path.String()}
	if o.Op.needsFrom() {
		from := o.From.String()
		w.From = &from
	}
	if o.Op.needsValue() {
		v, err := o.Value.MarshalJSON()
		if err != nil {
			return patchproto.Operation{}, err
		}
		w.Value = v
	}
	return w, nil
}

// Wire converts the patch back into wire operations.
func (p Patch) Wire() ([]patchproto.Operation, error) {
	out := make([]patchproto.Operation, len(p))
	for i, op := range p {
		w, err := op.Wire()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out[i] = w
	}
	return out, nil
}

// MarshalJSON encodes the patch as a JSON array of wire operations.
func (p Patch) MarshalJSON() ([]byte, error) {
	w, err := p.Wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}
