package document

import (
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// FromStructValue converts a protobuf Value into a Node. Struct fields are
// unordered on the wire, so keys are sorted to keep the result deterministic.
func FromStructValue(v *structpb.Value) *Node {
	if v == nil {
		return null
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return null
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue)
	case *structpb.Value_NumberValue:
		return Float(k.NumberValue)
	case *structpb.Value_StringValue:
		return String(k.StringValue)
	case *structpb.Value_ListValue:
		vals := k.ListValue.GetValues()
		items := make([]*Node, len(vals))
		for i, it := range vals {
			items[i] = FromStructValue(it)
		}
		return &Node{kind: ArrayKind, items: items}
	case *structpb.Value_StructValue:
		return FromStruct(k.StructValue)
	}
	return null
}

// FromStruct converts a protobuf Struct into an object node.
func FromStruct(s *structpb.Struct) *Node {
	m := s.GetFields()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]Field, len(keys))
	for i, k := range keys {
		fields[i] = Field{Key: k, Value: FromStructValue(m[k])}
	}
	return &Node{kind: ObjectKind, fields: fields}
}

// ToStructValue converts n into a protobuf Value. Numbers become float64, so
// integers beyond 2^53 lose precision.
func ToStructValue(n *Node) (*structpb.Value, error) {
	switch n.Kind() {
	case NullKind:
		return structpb.NewNullValue(), nil
	case BoolKind:
		return structpb.NewBoolValue(n.b), nil
	case NumberKind:
		f, err := strconv.ParseFloat(string(n.num), 64)
		if err != nil {
			return nil, fmt.Errorf("document: number %s: %w", n.num, err)
		}
		return structpb.NewNumberValue(f), nil
	case StringKind:
		return structpb.NewStringValue(n.str), nil
	case ArrayKind:
		vals := make([]*structpb.Value, len(n.items))
		for i, it := range n.items {
			v, err := ToStructValue(it)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return structpb.NewListValue(&structpb.ListValue{Values: vals}), nil
	case ObjectKind:
		s, err := ToStruct(n)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	}
	return nil, fmt.Errorf("document: cannot convert %s", n.Kind())
}

// ToStruct converts an object node into a protobuf Struct.
func ToStruct(n *Node) (*structpb.Struct, error) {
	if n.Kind() != ObjectKind {
		return nil, fmt.Errorf("document: %s is not an object", n.Kind())
	}
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(n.fields))}
	for _, f := range n.fields {
		v, err := ToStructValue(f.Value)
		if err != nil {
			return nil, err
		}
		s.Fields[f.Key] = v
	}
	return s, nil
}
