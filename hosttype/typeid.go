// Package hosttype classifies Go types into the closed set of conversion
// type-ids used by the converter and by overload scoring.
package hosttype

// TypeID is the conversion class of a Go type.
type TypeID uint8

const (
	Boolean TypeID = iota
	Byte
	Short
	Int
	Long
	Float
	Double
	CharID
	String
	Bytes
	ListID
	MapID
	Array
	Object
	Void
)

var typeNames = [...]string{
	Boolean: "boolean",
	Byte:    "byte",
	Short:   "short",
	Int:     "int",
	Long:    "long",
	Float:   "float",
	Double:  "double",
	CharID:  "char",
	String:  "string",
	Bytes:   "bytes",
	ListID:  "list",
	MapID:   "map",
	Array:   "array",
	Object:  "object",
	Void:    "void",
}

func (id TypeID) String() string {
	if int(id) < len(typeNames) {
		return typeNames[id]
	}
	return "unknown"
}

// IsPrimitive reports whether the id is a boolean, numeric or char class.
func (id TypeID) IsPrimitive() bool {
	return id <= CharID
}

// IsInteger reports whether the id is one of the integral classes.
func (id TypeID) IsInteger() bool {
	return id >= Byte && id <= Long
}

// Bits returns the width of an integral class, or 0.
func (id TypeID) Bits() int {
	switch id {
	case Byte:
		return 8
	case Short:
		return 16
	case Int:
		return 32
	case Long:
		return 64
	}
	return 0
}
