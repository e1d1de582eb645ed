package patch

import (
	"encoding/json"
	"fmt"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/pkg/patchproto"
)

// Builder assembles a patch one operation at a time. Values may be
// *document.Node or anything encoding/json can marshal. The first error is
// kept and reported by Build.
type Builder struct {
	ops []patchproto.Operation
	err error
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(path string, value any) *Builder {
	return b.withValue(Add, path, value)
}

func (b *Builder) Remove(path string) *Builder {
	b.ops = append(b.ops, patchproto.Operation{Op: string(Remove), Path: path})
	return b
}

func (b *Builder) Replace(path string, value any) *Builder {
	return b.withValue(Replace, path, value)
}

func (b *Builder) Move(from, path string) *Builder {
	b.ops = append(b.ops, patchproto.Operation{Op: string(Move), Path: path, From: &from})
	return b
}

func (b *Builder) Copy(from, path string) *Builder {
	b.ops = append(b.ops, patchproto.Operation{Op: string(Copy), Path: path, From: &from})
	return b
}

func (b *Builder) Test(path string, value any) *Builder {
	return b.withValue(Test, path, value)
}

func (b *Builder) withValue(op Op, path string, value any) *Builder {
	raw, err := marshalValue(value)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("%s %q: %w", op, path, err)
	}
	b.ops = append(b.ops, patchproto.Operation{Op: string(op), Path: path, Value: raw})
	return b
}

func marshalValue(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case *document.Node:
		return t.MarshalJSON()
	case json.RawMessage:
		return t, nil
	}
	return json.Marshal(v)
}

// Operations returns the wire operations added so far.
func (b *Builder) Operations() []patchproto.Operation {
	return append([]patchproto.Operation(nil), b.ops...)
}

// Build validates the accumulated operations.
func (b *Builder) Build() (Patch, error) {
	if b.err != nil {
		return nil, b.err
	}
	return Parse(b.ops)
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() Patch {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
