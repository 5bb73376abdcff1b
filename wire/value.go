// Package wire defines the transient marshalled form of values crossing
// between the Go host and the Python guest, and the envelopes that carry
// them.
package wire

import "strconv"

// Tag identifies the Python-side shape of a Value.
type Tag string

const (
	TagNone     Tag = "none"
	TagBool     Tag = "bool"
	TagInt      Tag = "int"
	TagFloat    Tag = "float"
	TagStr      Tag = "str"
	TagBytes    Tag = "bytes"
	TagList     Tag = "list"
	TagTuple    Tag = "tuple"
	TagDict     Tag = "dict"
	TagDate     Tag = "date"
	TagTime     Tag = "time"
	TagDateTime Tag = "datetime"
	TagDecimal  Tag = "decimal"
	TagProxy    Tag = "proxy" // Go value held in the host handle table
	TagRef      Tag = "ref"   // Python object held in the guest reference table
)

// Value is one marshalled value.
//
// Integers, floats and decimals travel as their canonical decimal text so
// that arbitrary-precision ints, NaN and infinities survive JSON. Bytes are
// base64 in S. Temporal values use F:
//
//	date     [year, month, day]
//	time     [hour, minute, second, microsecond]
//	datetime [year, month, day, hour, minute, second, microsecond]
//
// with Offset holding the UTC offset in seconds for aware datetimes.
type Value struct {
	T       Tag     `json:"t"`
	B       bool    `json:"b,omitempty"`
	S       string  `json:"s,omitempty"`
	Items   []Value `json:"i,omitempty"`
	Entries []Entry `json:"e,omitempty"`
	F       []int64 `json:"f,omitempty"`
	Offset  *int64  `json:"o,omitempty"`
	Handle  int64   `json:"h,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Class   string  `json:"c,omitempty"`
}

// Entry is one dict item.
type Entry struct {
	K Value `json:"k"`
	V Value `json:"v"`
}

// None is the marshalled Python None.
func None() Value { return Value{T: TagNone} }

// Bool marshals a bool.
func Bool(b bool) Value { return Value{T: TagBool, B: b} }

// Int marshals a signed integer.
func Int(i int64) Value { return Value{T: TagInt, S: strconv.FormatInt(i, 10)} }

// Uint marshals an unsigned integer.
func Uint(u uint64) Value { return Value{T: TagInt, S: strconv.FormatUint(u, 10)} }

// Float marshals a float64 using the shortest representation that
// round-trips.
func Float(f float64) Value {
	return Value{T: TagFloat, S: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Str marshals text.
func Str(s string) Value { return Value{T: TagStr, S: s} }

// List marshals a Python list.
func List(items ...Value) Value { return Value{T: TagList, Items: items} }

// Tuple marshals a Python tuple.
func Tuple(items ...Value) Value { return Value{T: TagTuple, Items: items} }

// Proxy references an entry in the host handle table.
func Proxy(handle int64, kind, class string) Value {
	return Value{T: TagProxy, Handle: handle, Kind: kind, Class: class}
}

// Ref references an entry in the guest reference table.
func Ref(handle int64, kind, class string) Value {
	return Value{T: TagRef, Handle: handle, Kind: kind, Class: class}
}

// IsNone reports whether v is None. The zero Value counts as None.
func (v Value) IsNone() bool {
	return v.T == TagNone || v.T == ""
}

// TypeName returns the Python type name v was marshalled from.
func (v Value) TypeName() string {
	switch v.T {
	case TagNone, "":
		return "NoneType"
	case TagDecimal:
		return "Decimal"
	case TagDateTime:
		return "datetime"
	case TagProxy, TagRef:
		if v.Class != "" {
			return v.Class
		}
	}
	return string(v.T)
}
