// Package document holds the in-memory model of structured documents.
//
// A Node is an immutable tree of objects, arrays and scalars. Every mutation
// helper in this package returns a new root and copies only the spine leading
// to the touched location, so a caller holding a previous root never observes
// a change.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Kind is the variant tag of a Node.
type Kind uint8

const (
	NullKind Kind = iota
	BoolKind
	NumberKind
	StringKind
	ArrayKind
	ObjectKind
)

func (k Kind) String() string {
	switch k {
	case NullKind:
		return "null"
	case BoolKind:
		return "boolean"
	case NumberKind:
		return "number"
	case StringKind:
		return "string"
	case ArrayKind:
		return "array"
	case ObjectKind:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is one key/value pair of an object node.
type Field struct {
	Key   string
	Value *Node
}

// Node is a single value in a document tree. The zero value and the nil
// pointer both behave as null.
type Node struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	items  []*Node
	fields []Field
}

var null = &Node{kind: NullKind}

// Null returns the null node.
func Null() *Node { return null }

// Bool returns a boolean node.
func Bool(b bool) *Node { return &Node{kind: BoolKind, b: b} }

// Number returns a number node holding the literal n. It panics when n is
// not a valid JSON number.
func Number(n json.Number) *Node {
	if _, err := strconv.ParseFloat(string(n), 64); err != nil {
		if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
			panic(fmt.Sprintf("document: invalid number literal %q", string(n)))
		}
	}
	return &Node{kind: NumberKind, num: n}
}

// Int returns a number node for i.
func Int(i int64) *Node {
	return &Node{kind: NumberKind, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float returns a number node for f. NaN and infinities have no JSON form
// and are stored as null.
func Float(f float64) *Node {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null
	}
	return &Node{kind: NumberKind, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// String returns a string node.
func String(s string) *Node { return &Node{kind: StringKind, str: s} }

// Array returns an array node over items. The slice is copied.
func Array(items ...*Node) *Node {
	out := make([]*Node, len(items))
	for i, it := range items {
		out[i] = orNull(it)
	}
	return &Node{kind: ArrayKind, items: out}
}

// Object returns an object node. Later duplicates of a key overwrite the
// value of the first occurrence and keep its position.
func Object(fields ...Field) *Node {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if i := indexOfKey(out, f.Key); i >= 0 {
			out[i].Value = orNull(f.Value)
			continue
		}
		out = append(out, Field{Key: f.Key, Value: orNull(f.Value)})
	}
	return &Node{kind: ObjectKind, fields: out}
}

func orNull(n *Node) *Node {
	if n == nil {
		return null
	}
	return n
}

// Kind reports the variant of n.
func (n *Node) Kind() Kind {
	if n == nil {
		return NullKind
	}
	return n.kind
}

func (n *Node) IsNull() bool { return n.Kind() == NullKind }

// BoolValue returns the boolean held by n and whether n is a boolean.
func (n *Node) BoolValue() (bool, bool) {
	if n.Kind() != BoolKind {
		return false, false
	}
	return n.b, true
}

// NumberValue returns the number literal held by n and whether n is a number.
func (n *Node) NumberValue() (json.Number, bool) {
	if n.Kind() != NumberKind {
		return "", false
	}
	return n.num, true
}

// StringValue returns the string held by n and whether n is a string.
func (n *Node) StringValue() (string, bool) {
	if n.Kind() != StringKind {
		return "", false
	}
	return n.str, true
}

// Len returns the number of elements of an array or fields of an object,
// and 0 for scalars.
func (n *Node) Len() int {
	switch n.Kind() {
	case ArrayKind:
		return len(n.items)
	case ObjectKind:
		return len(n.fields)
	}
	return 0
}

// Index returns the i-th element of an array node.
func (n *Node) Index(i int) (*Node, bool) {
	if n.Kind() != ArrayKind || i < 0 || i >= len(n.items) {
		return nil, false
	}
	return n.items[i], true
}

// Get returns the value stored under key in an object node.
func (n *Node) Get(key string) (*Node, bool) {
	if n.Kind() != ObjectKind {
		return nil, false
	}
	if i := indexOfKey(n.fields, key); i >= 0 {
		return n.fields[i].Value, true
	}
	return nil, false
}

// Keys returns the object keys in insertion order.
func (n *Node) Keys() []string {
	if n.Kind() != ObjectKind {
		return nil
	}
	keys := make([]string, len(n.fields))
	for i, f := range n.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the object fields in insertion order.
func (n *Node) Fields() []Field {
	if n.Kind() != ObjectKind {
		return nil
	}
	return append([]Field(nil), n.fields...)
}

// Items returns a copy of the array elements.
func (n *Node) Items() []*Node {
	if n.Kind() != ArrayKind {
		return nil
	}
	return append([]*Node(nil), n.items...)
}

func (n *Node) String() string {
	data, err := n.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", n.Kind(), err)
	}
	return string(data)
}

func indexOfKey(fields []Field, key string) int {
	for i := range fields {
		if fields[i].Key == key {
			return i
		}
	}
	return -1
}

// Equal reports whether a and b are structurally equal. Object key order is
// not significant; numbers compare by numeric value; values of different
// kinds are never equal.
func Equal(a, b *Node) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case NullKind:
		return true
	case BoolKind:
		return a.b == b.b
	case NumberKind:
		return numbersEqual(a.num, b.num)
	case StringKind:
		return a.str == b.str
	case ArrayKind:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case ObjectKind:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for _, f := range a.fields {
			other, ok := b.Get(f.Key)
			if !ok || !Equal(f.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}

// numbersEqual compares two number literals exactly, so 1, 1.0 and 1e0 are
// equal but integers beyond float64 precision stay distinct.
func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, okA := new(big.Rat).SetString(string(a))
	rb, okB := new(big.Rat).SetString(string(b))
	if okA && okB {
		return ra.Cmp(rb) == 0
	}
	return normalizeLiteral(a) == normalizeLiteral(b)
}

// normalizeLiteral canonicalizes the spelling of an exponent for literals
// big.Rat refuses.
func normalizeLiteral(n json.Number) string {
	s := strings.ToLower(string(n))
	return strings.Replace(s, "e+", "e", 1)
}

// Clone returns a deep copy of n that shares no memory with it.
func Clone(n *Node) *Node {
	switch n.Kind() {
	case NullKind:
		return null
	case ArrayKind:
		items := make([]*Node, len(n.items))
		for i, it := range n.items {
			items[i] = Clone(it)
		}
		return &Node{kind: ArrayKind, items: items}
	case ObjectKind:
		fields := make([]Field, len(n.fields))
		for i, f := range n.fields {
			fields[i] = Field{Key: f.Key, Value: Clone(f.Value)}
		}
		return &Node{kind: ObjectKind, fields: fields}
	}
	cp := *n
	return &cp
}
