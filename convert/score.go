package convert

import (
	"reflect"
	"unicode/utf8"

	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

// MaxScore is the highest degree a single argument can reach.
const MaxScore = 9

// Score rates how well w fits a parameter of type t, from 0 (cannot convert)
// to MaxScore (exact native match). An interface parameter that w can be
// assigned to always scores at least 1.
func (c *Converter) Score(w wire.Value, t reflect.Type) int {
	if t == nil {
		return 0
	}
	switch w.T {
	case wire.TagProxy:
		return c.scoreProxy(w, t)
	case wire.TagRef:
		return c.scoreRef(w, t)
	case wire.TagNone, "":
		if nillable(t.Kind()) {
			return 1
		}
		return 0
	}

	if t == hosttype.TypeAny {
		return 1
	}
	id, err := hosttype.Resolve(t)
	if err != nil {
		return 0
	}
	boxed := hosttype.IsBoxed(t)

	switch w.T {
	case wire.TagBool:
		if id == hosttype.Boolean {
			if boxed {
				return 3
			}
			return 4
		}
	case wire.TagInt:
		return scoreInt(t, id, boxed)
	case wire.TagFloat:
		return scoreFloat(t, id, boxed)
	case wire.TagStr:
		switch {
		case t.Kind() == reflect.String:
			return 3
		case t == hosttype.TypeChar && utf8.RuneCountInString(w.S) == 1:
			return 2
		}
	case wire.TagBytes:
		if (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() == reflect.Uint8 {
			if t.Kind() == reflect.Slice {
				return 3
			}
			return 2
		}
	case wire.TagList:
		switch t.Kind() {
		case reflect.Slice:
			return 3
		case reflect.Array:
			return 2
		}
	case wire.TagTuple:
		switch t.Kind() {
		case reflect.Array:
			return 3
		case reflect.Slice:
			return 2
		}
	case wire.TagDict:
		switch {
		case t.Kind() == reflect.Map:
			return 3
		case t.Kind() == reflect.Struct && t != timeType && t != hosttype.TypeDate && t != hosttype.TypeTimeOfDay,
			t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
			return 2
		}
	case wire.TagDate:
		switch t {
		case hosttype.TypeDate:
			return 3
		case timeType:
			return 2
		}
	case wire.TagTime:
		switch t {
		case hosttype.TypeTimeOfDay:
			return 3
		case timeType:
			return 2
		}
	case wire.TagDateTime:
		switch t {
		case timeType:
			return 3
		case hosttype.TypeDate, hosttype.TypeTimeOfDay:
			return 2
		}
	case wire.TagDecimal:
		switch t {
		case decimalPtr, decimalType:
			return 3
		case bigFloatType, bigIntType:
			return 2
		}
	}

	if t.Kind() == reflect.Interface && defaultAssignable(w, t) {
		return 1
	}
	return 0
}

func scoreInt(t reflect.Type, id hosttype.TypeID, boxed bool) int {
	switch t {
	case bigIntType, bigFloatType, decimalPtr, decimalType:
		return 2
	}
	if boxed {
		if id == hosttype.Long && (t.Elem().Kind() == reflect.Int64 || t.Elem().Kind() == reflect.Int) {
			return 3
		}
		if id.IsInteger() {
			return 2
		}
		return 0
	}
	switch t.Kind() {
	case reflect.Int64, reflect.Int:
		return 9
	case reflect.Int32:
		if id == hosttype.CharID {
			return 0
		}
		return 8
	case reflect.Float64:
		return 7
	case reflect.Float32:
		return 6
	case reflect.Int16, reflect.Uint64, reflect.Uint, reflect.Uint32, reflect.Uintptr:
		return 5
	case reflect.Int8, reflect.Uint8, reflect.Uint16:
		return 4
	}
	return 0
}

func scoreFloat(t reflect.Type, id hosttype.TypeID, boxed bool) int {
	switch t {
	case bigFloatType, decimalPtr, decimalType:
		return 2
	}
	switch {
	case id == hosttype.Double && !boxed:
		return 6
	case id == hosttype.Float && !boxed:
		return 5
	case id == hosttype.Double:
		return 4
	case id == hosttype.Float:
		return 3
	}
	return 0
}

// defaultAssignable reports whether the default conversion of w satisfies
// the interface t.
func defaultAssignable(w wire.Value, t reflect.Type) bool {
	var dt reflect.Type
	switch w.T {
	case wire.TagBool:
		dt = reflect.TypeFor[bool]()
	case wire.TagInt:
		dt = reflect.TypeFor[int64]()
	case wire.TagFloat:
		dt = reflect.TypeFor[float64]()
	case wire.TagStr:
		dt = hosttype.TypeString
	case wire.TagBytes:
		dt = hosttype.TypeBytes
	case wire.TagList, wire.TagTuple:
		dt = anySliceType
	case wire.TagDict:
		dt = stringMapType
	case wire.TagDate:
		dt = hosttype.TypeDate
	case wire.TagTime:
		dt = hosttype.TypeTimeOfDay
	case wire.TagDateTime:
		dt = timeType
	case wire.TagDecimal:
		dt = decimalPtr
	default:
		return false
	}
	return dt.Implements(t)
}

func (c *Converter) scoreProxy(w wire.Value, t reflect.Type) int {
	if c.exp == nil {
		return 0
	}
	rv, ok := c.exp.Lookup(w.Handle)
	if !ok || !rv.IsValid() {
		return 0
	}
	vt := rv.Type()
	switch {
	case vt == t:
		return 2
	case vt.AssignableTo(t):
		return 1
	case vt.Kind() == reflect.Pointer && vt.Elem() == t:
		return 1
	}
	return 0
}

func (c *Converter) scoreRef(w wire.Value, t reflect.Type) int {
	if c.refs == nil {
		return 0
	}
	vt := c.refs.Type(w)
	switch {
	case vt == nil:
		return 0
	case vt == t:
		return 2
	case vt.AssignableTo(t):
		return 1
	}
	return 0
}

// Aggregate folds per-argument scores into one number: zero if any argument
// cannot convert, one for an empty argument list, otherwise the scores read
// as base-10 digits. Long argument lists saturate; use Compare to rank.
func Aggregate(scores []int) int64 {
	if len(scores) == 0 {
		return 1
	}
	var total int64
	for _, s := range scores {
		if s <= 0 {
			return 0
		}
		if total > (1<<62)/10 {
			return 1<<63 - 1
		}
		total = total*10 + int64(min(s, MaxScore))
	}
	return total
}

// Compare ranks two score lists of the same length lexicographically,
// which matches comparing their Aggregate values without overflow.
func Compare(a, b []int) int {
	for i := range min(len(a), len(b)) {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
