// Package jsontree decodes JSON into an order-preserving tagged value tree so
// untyped upstream payloads can be walked without ad hoc type switches on
// interface{} maps.
package jsontree

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const maxDepth = 512

var (
	ErrInvalid = errors.New("jsontree: invalid json")
	ErrTooDeep = errors.New("jsontree: nesting too deep")
)

// Member is one key/value pair of an object, kept in document order.
type Member struct {
	Key   string
	Value Value
}

// Value is a JSON value. Only the field matching Kind is meaningful.
type Value struct {
	Kind    Kind
	Bool    bool
	Number  json.Number
	Str     string
	Items   []Value
	Members []Member
}

// Parse validates data and builds the tree from gjson results. gjson walks
// objects member by member in document order and keeps duplicate keys, which
// FindString relies on.
func Parse(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, ErrInvalid
	}
	return build(gjson.ParseBytes(data), 0)
}

func build(r gjson.Result, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, ErrTooDeep
	}

	switch r.Type {
	case gjson.Null:
		return Value{Kind: Null}, nil
	case gjson.False, gjson.True:
		return Value{Kind: Bool, Bool: r.Type == gjson.True}, nil
	case gjson.Number:
		return Value{Kind: Number, Number: json.Number(r.Raw)}, nil
	case gjson.String:
		return Value{Kind: String, Str: r.Str}, nil
	}

	var (
		v   Value
		err error
	)
	switch {
	case r.IsObject():
		v.Kind = Object
		r.ForEach(func(key, member gjson.Result) bool {
			var child Value
			child, err = build(member, depth+1)
			if err != nil {
				return false
			}
			v.Members = append(v.Members, Member{Key: key.Str, Value: child})
			return true
		})
	case r.IsArray():
		v.Kind = Array
		r.ForEach(func(_, item gjson.Result) bool {
			var child Value
			child, err = build(item, depth+1)
			if err != nil {
				return false
			}
			v.Items = append(v.Items, child)
			return true
		})
	default:
		return Value{}, fmt.Errorf("%w: unexpected value %q", ErrInvalid, r.Raw)
	}
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

// Field returns the value stored under key. With duplicate keys the last one
// wins, as with most decoders.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != Object {
		return Value{}, false
	}
	for i := len(v.Members) - 1; i >= 0; i-- {
		if v.Members[i].Key == key {
			return v.Members[i].Value, true
		}
	}
	return Value{}, false
}

// FindString walks v depth-first, object members and array items in order,
// and returns the first string accepted by match. A key repeated within one
// object is visited once, at its first position, holding its last value.
func FindString(v Value, match func(string) (string, bool)) (string, bool) {
	switch v.Kind {
	case String:
		return match(v.Str)
	case Array:
		for _, item := range v.Items {
			if found, ok := FindString(item, match); ok {
				return found, true
			}
		}
	case Object:
		for _, m := range v.Unique() {
			if found, ok := FindString(m.Value, match); ok {
				return found, true
			}
		}
	}
	return "", false
}

// Unique collapses duplicate keys of an object: each key keeps the slot of its
// first occurrence and the value of its last one.
func (v Value) Unique() []Member {
	if v.Kind != Object {
		return nil
	}
	slot := make(map[string]int, len(v.Members))
	out := make([]Member, 0, len(v.Members))
	for _, m := range v.Members {
		if i, seen := slot[m.Key]; seen {
			out[i].Value = m.Value
			continue
		}
		slot[m.Key] = len(out)
		out = append(out, m)
	}
	return out
}

// Bytes interprets an array of integers in [0,255] as a byte buffer.
func (v Value) Bytes() ([]byte, bool) {
	if v.Kind != Array {
		return nil, false
	}
	out := make([]byte, 0, len(v.Items))
	for _, item := range v.Items {
		if item.Kind != Number {
			return nil, false
		}
		n, err := item.Number.Int64()
		if err != nil || n < 0 || n > 255 {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}
