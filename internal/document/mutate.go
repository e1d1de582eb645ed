package document

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a pointer does not resolve to a location that
// the operation can act on.
var ErrNotFound = errors.New("path not found")

// LookupResult is the outcome of resolving a pointer.
type LookupResult uint8

const (
	NotFound LookupResult = iota
	Found
	FoundNull
)

func (r LookupResult) String() string {
	switch r {
	case Found:
		return "found"
	case FoundNull:
		return "found-null"
	}
	return "not-found"
}

// Lookup resolves p against root. It never fails; an unresolvable pointer
// yields (nil, NotFound).
func Lookup(root *Node, p Pointer) (*Node, LookupResult) {
	cur := orNull(root)
	for _, tok := range p.tokens {
		next, ok := child(cur, tok)
		if !ok {
			return nil, NotFound
		}
		cur = next
	}
	if cur.IsNull() {
		return cur, FoundNull
	}
	return cur, Found
}

// Exists reports whether p resolves against root.
func Exists(root *Node, p Pointer) bool {
	_, r := Lookup(root, p)
	return r != NotFound
}

func child(n *Node, tok string) (*Node, bool) {
	switch n.Kind() {
	case ObjectKind:
		return n.Get(tok)
	case ArrayKind:
		i, ok := arrayIndex(tok)
		if !ok {
			return nil, false
		}
		return n.Index(i)
	}
	return nil, false
}

// Change describes where a mutation landed. At is the concrete location
// (the append marker resolved to an index) and Old is the value that was
// removed or overwritten there, nil when nothing was displaced.
type Change struct {
	At  Pointer
	Old *Node
}

// Insert adds v at p. For an object parent the key is created or
// overwritten; for an array parent the token must be an existing index, in
// which case v is inserted before it, or the append marker.
func Insert(root *Node, p Pointer, v *Node) (*Node, Change, error) {
	v = orNull(v)
	if p.IsRoot() {
		return v, Change{At: p, Old: orNull(root)}, nil
	}
	var ch Change
	out, err := rewrite(orNull(root), p, 0, func(parent *Node, tok string) (*Node, error) {
		switch parent.Kind() {
		case ObjectKind:
			fields := append([]Field(nil), parent.fields...)
			ch.At = p
			if i := indexOfKey(fields, tok); i >= 0 {
				ch.Old = fields[i].Value
				fields[i].Value = v
			} else {
				fields = append(fields, Field{Key: tok, Value: v})
			}
			return &Node{kind: ObjectKind, fields: fields}, nil
		case ArrayKind:
			n := len(parent.items)
			at := n
			if tok != AppendToken {
				i, ok := arrayIndex(tok)
				if !ok || i >= n {
					return nil, notFound(p, "array index %q out of range for length %d", tok, n)
				}
				at = i
			}
			items := make([]*Node, 0, n+1)
			items = append(items, parent.items[:at]...)
			items = append(items, v)
			items = append(items, parent.items[at:]...)
			ch.At = p.Parent().Child(fmt.Sprint(at))
			return &Node{kind: ArrayKind, items: items}, nil
		}
		return nil, notFound(p, "parent is a %s", parent.Kind())
	})
	if err != nil {
		return nil, Change{}, err
	}
	return out, ch, nil
}

// Remove deletes the node at p. Array elements after it shift down. Removing
// the root leaves a null root.
func Remove(root *Node, p Pointer) (*Node, Change, error) {
	if p.IsRoot() {
		return null, Change{At: p, Old: orNull(root)}, nil
	}
	var ch Change
	out, err := rewrite(orNull(root), p, 0, func(parent *Node, tok string) (*Node, error) {
		switch parent.Kind() {
		case ObjectKind:
			i := indexOfKey(parent.fields, tok)
			if i < 0 {
				return nil, notFound(p, "no member %q", tok)
			}
			ch = Change{At: p, Old: parent.fields[i].Value}
			fields := make([]Field, 0, len(parent.fields)-1)
			fields = append(fields, parent.fields[:i]...)
			fields = append(fields, parent.fields[i+1:]...)
			return &Node{kind: ObjectKind, fields: fields}, nil
		case ArrayKind:
			i, ok := arrayIndex(tok)
			if !ok || i >= len(parent.items) {
				return nil, notFound(p, "array index %q out of range for length %d", tok, len(parent.items))
			}
			ch = Change{At: p, Old: parent.items[i]}
			items := make([]*Node, 0, len(parent.items)-1)
			items = append(items, parent.items[:i]...)
			items = append(items, parent.items[i+1:]...)
			return &Node{kind: ArrayKind, items: items}, nil
		}
		return nil, notFound(p, "parent is a %s", parent.Kind())
	})
	if err != nil {
		return nil, Change{}, err
	}
	return out, ch, nil
}

// Replace overwrites the existing node at p, keeping its position.
func Replace(root *Node, p Pointer, v *Node) (*Node, Change, error) {
	v = orNull(v)
	if p.IsRoot() {
		return v, Change{At: p, Old: orNull(root)}, nil
	}
	var ch Change
	out, err := rewrite(orNull(root), p, 0, func(parent *Node, tok string) (*Node, error) {
		switch parent.Kind() {
		case ObjectKind:
			i := indexOfKey(parent.fields, tok)
			if i < 0 {
				return nil, notFound(p, "no member %q", tok)
			}
			ch = Change{At: p, Old: parent.fields[i].Value}
			fields := append([]Field(nil), parent.fields...)
			fields[i].Value = v
			return &Node{kind: ObjectKind, fields: fields}, nil
		case ArrayKind:
			i, ok := arrayIndex(tok)
			if !ok || i >= len(parent.items) {
				return nil, notFound(p, "array index %q out of range for length %d", tok, len(parent.items))
			}
			ch = Change{At: p, Old: parent.items[i]}
			items := append([]*Node(nil), parent.items...)
			items[i] = v
			return &Node{kind: ArrayKind, items: items}, nil
		}
		return nil, notFound(p, "parent is a %s", parent.Kind())
	})
	if err != nil {
		return nil, Change{}, err
	}
	return out, ch, nil
}

// rewrite walks n down to the parent of the last token of p and rebuilds the
// spine above the node returned by leaf. Siblings are shared, not copied.
func rewrite(n *Node, p Pointer, depth int, leaf func(parent *Node, tok string) (*Node, error)) (*Node, error) {
	tok := p.tokens[depth]
	if depth == len(p.tokens)-1 {
		return leaf(n, tok)
	}
	next, ok := child(n, tok)
	if !ok {
		return nil, notFound(p, "%q does not resolve", NewPointer(p.tokens[:depth+1]...).String())
	}
	updated, err := rewrite(next, p, depth+1, leaf)
	if err != nil {
		return nil, err
	}
	return withChild(n, tok, updated), nil
}

// withChild returns a shallow copy of n with the child at tok swapped. tok
// is known to resolve.
func withChild(n *Node, tok string, c *Node) *Node {
	switch n.Kind() {
	case ObjectKind:
		fields := append([]Field(nil), n.fields...)
		fields[indexOfKey(fields, tok)].Value = c
		return &Node{kind: ObjectKind, fields: fields}
	case ArrayKind:
		i, _ := arrayIndex(tok)
		items := append([]*Node(nil), n.items...)
		items[i] = c
		return &Node{kind: ArrayKind, items: items}
	}
	panic("document: withChild on scalar")
}

func notFound(p Pointer, format string, args ...any) error {
	return fmt.Errorf("%w: %q: %s", ErrNotFound, p.String(), fmt.Sprintf(format, args...))
}
