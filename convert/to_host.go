package convert

import (
	"encoding/base64"
	"errors"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-viper/mapstructure/v2"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

// ToHost converts w to a value assignable to target. A nil target means any.
func (c *Converter) ToHost(w wire.Value, target reflect.Type) (reflect.Value, error) {
	if target == nil {
		target = hosttype.TypeAny
	}

	switch w.T {
	case wire.TagProxy:
		return c.unwrapProxy(w, target)
	case wire.TagRef:
		if c.refs == nil {
			return reflect.Value{}, mismatch(w, target, "no guest reference table")
		}
		return c.refs.Wrap(w, target)
	}

	if w.IsNone() {
		if nillable(target.Kind()) {
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, mismatch(w, target, "None cannot be converted to a non-nillable type")
	}

	if target.Kind() == reflect.Interface {
		rv, err := c.defaultValue(w)
		if err != nil {
			return reflect.Value{}, err
		}
		return assignTo(rv, target, w)
	}

	if hosttype.IsBoxed(target) {
		elem, err := c.ToHost(w, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	switch target {
	case timeType:
		return toTime(w, target)
	case hosttype.TypeDate:
		return toDate(w, target)
	case hosttype.TypeTimeOfDay:
		return toTimeOfDay(w, target)
	case hosttype.TypeChar:
		if w.T == wire.TagStr && utf8.RuneCountInString(w.S) == 1 {
			r, _ := utf8.DecodeRuneInString(w.S)
			return reflect.ValueOf(hosttype.Char(r)), nil
		}
		return reflect.Value{}, mismatch(w, target, "expected a single character")
	case bigIntType:
		return toBigInt(w, target)
	case bigFloatType:
		return toBigFloat(w, target)
	case decimalPtr:
		return toDecimal(w, target)
	case decimalType:
		d, err := toDecimal(w, decimalPtr)
		if err != nil {
			return reflect.Value{}, err
		}
		return d.Elem(), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Bool:
		if w.T != wire.TagBool {
			return reflect.Value{}, mismatch(w, target, "")
		}
		out.SetBool(w.B)
		return out, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		digits, err := intDigits(w, target)
		if err != nil {
			return reflect.Value{}, err
		}
		bits := target.Bits()
		i, err := strconv.ParseInt(digits, 10, bits)
		if err != nil {
			return reflect.Value{}, intError(err, digits, target, bits)
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		digits, err := intDigits(w, target)
		if err != nil {
			return reflect.Value{}, err
		}
		bits := target.Bits()
		if strings.HasPrefix(digits, "-") {
			return reflect.Value{}, berrors.Overflow(digits, target.String(), bits)
		}
		u, err := strconv.ParseUint(digits, 10, bits)
		if err != nil {
			return reflect.Value{}, intError(err, digits, target, bits)
		}
		out.SetUint(u)
		return out, nil

	case reflect.Float32, reflect.Float64:
		if w.T != wire.TagFloat && w.T != wire.TagInt {
			return reflect.Value{}, mismatch(w, target, "")
		}
		f, err := strconv.ParseFloat(w.S, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return reflect.Value{}, invalid(w, target, err)
		}
		// inf and nan pass through; a finite value must fit the target.
		if err != nil && math.IsInf(f, 0) ||
			target.Kind() == reflect.Float32 && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return reflect.Value{}, berrors.New(berrors.PhaseToHost, berrors.KindOverflow).
				GoType(target.String()).
				Value(w.S).
				Detail("%s is outside the valid range of a %d-bit float", w.S, target.Bits()).
				Build()
		}
		out.SetFloat(f)
		return out, nil

	case reflect.String:
		if w.T != wire.TagStr {
			return reflect.Value{}, mismatch(w, target, "")
		}
		out.SetString(w.S)
		return out, nil

	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 && w.T == wire.TagBytes {
			b, err := base64.StdEncoding.DecodeString(w.S)
			if err != nil {
				return reflect.Value{}, invalid(w, target, err)
			}
			return reflect.ValueOf(b).Convert(target), nil
		}
		if w.T != wire.TagList && w.T != wire.TagTuple {
			return reflect.Value{}, mismatch(w, target, "")
		}
		s := reflect.MakeSlice(target, len(w.Items), len(w.Items))
		for i, item := range w.Items {
			ev, err := c.ToHost(item, target.Elem())
			if err != nil {
				return reflect.Value{}, atIndex(err, i)
			}
			s.Index(i).Set(ev)
		}
		return s, nil

	case reflect.Array:
		if target.Elem().Kind() == reflect.Uint8 && w.T == wire.TagBytes {
			b, err := base64.StdEncoding.DecodeString(w.S)
			if err != nil {
				return reflect.Value{}, invalid(w, target, err)
			}
			if len(b) != target.Len() {
				return reflect.Value{}, mismatch(w, target, "length %d does not match array length %d", len(b), target.Len())
			}
			reflect.Copy(out, reflect.ValueOf(b))
			return out, nil
		}
		if w.T != wire.TagTuple && w.T != wire.TagList {
			return reflect.Value{}, mismatch(w, target, "")
		}
		if len(w.Items) != target.Len() {
			return reflect.Value{}, mismatch(w, target, "length %d does not match array length %d", len(w.Items), target.Len())
		}
		for i, item := range w.Items {
			ev, err := c.ToHost(item, target.Elem())
			if err != nil {
				return reflect.Value{}, atIndex(err, i)
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Map:
		if w.T != wire.TagDict {
			return reflect.Value{}, mismatch(w, target, "")
		}
		m := reflect.MakeMapWithSize(target, len(w.Entries))
		for _, e := range w.Entries {
			k, err := c.ToHost(e.K, target.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := c.ToHost(e.V, target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			m.SetMapIndex(k, v)
		}
		return m, nil

	case reflect.Struct:
		if w.T != wire.TagDict {
			return reflect.Value{}, mismatch(w, target, "")
		}
		p := reflect.New(target)
		if err := c.decodeStruct(w, p); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil

	case reflect.Pointer:
		if target.Elem().Kind() == reflect.Struct && w.T == wire.TagDict {
			p := reflect.New(target.Elem())
			if err := c.decodeStruct(w, p); err != nil {
				return reflect.Value{}, err
			}
			return p, nil
		}
	}

	return reflect.Value{}, mismatch(w, target, "")
}

// Default converts w using the natural Go type for each Python type.
func (c *Converter) Default(w wire.Value) (any, error) {
	rv, err := c.ToHost(w, hosttype.TypeAny)
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// defaultValue picks the natural Go type for w:
//
//	bool → bool, int → int64 (or *big.Int), float → float64, str → string,
//	bytes → []byte, list/tuple → []any, dict → map[string]any when every key
//	is a str and map[any]any otherwise, date → hosttype.Date,
//	time → hosttype.TimeOfDay, datetime → time.Time, decimal → *apd.Decimal.
func (c *Converter) defaultValue(w wire.Value) (reflect.Value, error) {
	switch w.T {
	case wire.TagNone, "":
		return reflect.Zero(hosttype.TypeAny), nil
	case wire.TagBool:
		return reflect.ValueOf(w.B), nil
	case wire.TagInt:
		if i, err := strconv.ParseInt(w.S, 10, 64); err == nil {
			return reflect.ValueOf(i), nil
		}
		return toBigInt(w, bigIntType)
	case wire.TagFloat:
		f, err := strconv.ParseFloat(w.S, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return reflect.Value{}, invalid(w, hosttype.TypeAny, err)
		}
		return reflect.ValueOf(f), nil
	case wire.TagStr:
		return reflect.ValueOf(w.S), nil
	case wire.TagBytes:
		return c.ToHost(w, hosttype.TypeBytes)
	case wire.TagList, wire.TagTuple:
		return c.ToHost(w, anySliceType)
	case wire.TagDict:
		for _, e := range w.Entries {
			if e.K.T != wire.TagStr {
				return c.anyMap(w)
			}
		}
		return c.ToHost(w, stringMapType)
	case wire.TagDate:
		return toDate(w, hosttype.TypeDate)
	case wire.TagTime:
		return toTimeOfDay(w, hosttype.TypeTimeOfDay)
	case wire.TagDateTime:
		return toTime(w, timeType)
	case wire.TagDecimal:
		return toDecimal(w, decimalPtr)
	case wire.TagProxy:
		return c.unwrapProxy(w, hosttype.TypeAny)
	case wire.TagRef:
		if c.refs == nil {
			return reflect.Value{}, mismatch(w, hosttype.TypeAny, "no guest reference table")
		}
		return c.refs.Wrap(w, hosttype.TypeAny)
	}
	return reflect.Value{}, berrors.New(berrors.PhaseToHost, berrors.KindUnrecognizedType).
		PyType(string(w.T)).
		Build()
}

// anyMap builds a map[any]any, turning unhashable Go keys into hashable
// equivalents: []byte keys become strings and tuple keys fixed arrays.
func (c *Converter) anyMap(w wire.Value) (reflect.Value, error) {
	m := make(map[any]any, len(w.Entries))
	for _, e := range w.Entries {
		k, err := c.defaultValue(e.K)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := c.defaultValue(e.V)
		if err != nil {
			return reflect.Value{}, err
		}
		m[hashable(k).Interface()] = interfaceOf(v)
	}
	return reflect.ValueOf(m), nil
}

func hashable(k reflect.Value) reflect.Value {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() != reflect.Slice {
		return k
	}
	if k.Type().Elem().Kind() == reflect.Uint8 {
		return reflect.ValueOf(string(k.Bytes()))
	}
	arr := reflect.New(reflect.ArrayOf(k.Len(), hosttype.TypeAny)).Elem()
	for i := 0; i < k.Len(); i++ {
		arr.Index(i).Set(hashable(k.Index(i)))
	}
	return arr
}

func interfaceOf(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

func (c *Converter) decodeStruct(w wire.Value, ptr reflect.Value) error {
	src, err := c.ToHost(w, stringMapType)
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ptr.Interface(),
		WeaklyTypedInput: false,
		ErrorUnused:      false,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(src.Interface()); err != nil {
		return berrors.New(berrors.PhaseToHost, berrors.KindTypeMismatch).
			GoType(ptr.Type().Elem().String()).
			PyType("dict").
			Cause(err).
			Build()
	}
	return nil
}

func (c *Converter) unwrapProxy(w wire.Value, target reflect.Type) (reflect.Value, error) {
	if c.exp == nil {
		return reflect.Value{}, mismatch(w, target, "no handle table")
	}
	rv, ok := c.exp.Lookup(w.Handle)
	if !ok {
		return reflect.Value{}, berrors.New(berrors.PhaseToHost, berrors.KindInvalidData).
			PyType(w.TypeName()).
			Detail("stale proxy handle %d", w.Handle).
			Build()
	}
	if !rv.IsValid() {
		return reflect.Value{}, mismatch(w, target, "class proxies have no instance")
	}
	if rv.Type().AssignableTo(target) {
		return assignTo(rv, target, w)
	}
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(target) {
		return assignTo(rv.Elem(), target, w)
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func assignTo(rv reflect.Value, target reflect.Type, w wire.Value) (reflect.Value, error) {
	if !rv.IsValid() {
		return reflect.Zero(target), nil
	}
	if rv.Type() == target {
		return rv, nil
	}
	if !rv.Type().AssignableTo(target) {
		return reflect.Value{}, mismatch(w, target, "")
	}
	out := reflect.New(target).Elem()
	out.Set(rv)
	return out, nil
}

func intDigits(w wire.Value, target reflect.Type) (string, error) {
	switch w.T {
	case wire.TagInt:
		return w.S, nil
	case wire.TagBool:
		if w.B {
			return "1", nil
		}
		return "0", nil
	}
	return "", mismatch(w, target, "")
}

func intError(err error, digits string, target reflect.Type, bits int) error {
	if errors.Is(err, strconv.ErrRange) {
		return berrors.Overflow(digits, target.String(), bits)
	}
	return berrors.New(berrors.PhaseToHost, berrors.KindInvalidData).
		GoType(target.String()).
		Value(digits).
		Cause(err).
		Build()
}

func toBigInt(w wire.Value, target reflect.Type) (reflect.Value, error) {
	switch w.T {
	case wire.TagInt:
		i, ok := new(big.Int).SetString(w.S, 10)
		if !ok {
			return reflect.Value{}, invalid(w, target, nil)
		}
		return reflect.ValueOf(i), nil
	case wire.TagDecimal:
		d, _, err := apd.NewFromString(w.S)
		if err != nil {
			return reflect.Value{}, invalid(w, target, err)
		}
		d.Reduce(d)
		if d.Form != apd.Finite || d.Exponent < 0 {
			return reflect.Value{}, mismatch(w, target, "decimal %s is not an integer", w.S)
		}
		i, ok := new(big.Int).SetString(d.Text('f'), 10)
		if !ok {
			return reflect.Value{}, invalid(w, target, nil)
		}
		return reflect.ValueOf(i), nil
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func toBigFloat(w wire.Value, target reflect.Type) (reflect.Value, error) {
	switch w.T {
	case wire.TagInt, wire.TagFloat, wire.TagDecimal:
		f, _, err := big.ParseFloat(w.S, 10, 0, big.ToNearestEven)
		if err != nil {
			return reflect.Value{}, invalid(w, target, err)
		}
		return reflect.ValueOf(f), nil
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func toDecimal(w wire.Value, target reflect.Type) (reflect.Value, error) {
	switch w.T {
	case wire.TagInt, wire.TagFloat, wire.TagDecimal:
		d, _, err := apd.NewFromString(w.S)
		if err != nil {
			return reflect.Value{}, invalid(w, target, err)
		}
		return reflect.ValueOf(d), nil
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func toDate(w wire.Value, target reflect.Type) (reflect.Value, error) {
	switch w.T {
	case wire.TagDate, wire.TagDateTime:
		if len(w.F) < 3 {
			return reflect.Value{}, invalid(w, target, nil)
		}
		return reflect.ValueOf(hosttype.Date{Year: int(w.F[0]), Month: time.Month(w.F[1]), Day: int(w.F[2])}), nil
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func toTimeOfDay(w wire.Value, target reflect.Type) (reflect.Value, error) {
	var f []int64
	switch {
	case w.T == wire.TagTime && len(w.F) == 4:
		f = w.F
	case w.T == wire.TagDateTime && len(w.F) == 7:
		f = w.F[3:]
	default:
		return reflect.Value{}, mismatch(w, target, "")
	}
	return reflect.ValueOf(hosttype.TimeOfDay{
		Hour: int(f[0]), Minute: int(f[1]), Second: int(f[2]), Nanosecond: int(f[3]) * 1000,
	}), nil
}

func toTime(w wire.Value, target reflect.Type) (reflect.Value, error) {
	switch {
	case w.T == wire.TagDateTime && len(w.F) == 7:
		f := w.F
		loc := time.Local
		if w.Offset != nil {
			loc = zone(*w.Offset)
		}
		return reflect.ValueOf(time.Date(int(f[0]), time.Month(f[1]), int(f[2]),
			int(f[3]), int(f[4]), int(f[5]), int(f[6])*1000, loc)), nil
	case w.T == wire.TagDate && len(w.F) == 3:
		return reflect.ValueOf(time.Date(int(w.F[0]), time.Month(w.F[1]), int(w.F[2]), 0, 0, 0, 0, time.Local)), nil
	case w.T == wire.TagTime && len(w.F) == 4:
		f := w.F
		return reflect.ValueOf(time.Date(1970, time.January, 1, int(f[0]), int(f[1]), int(f[2]), int(f[3])*1000, time.UTC)), nil
	}
	return reflect.Value{}, mismatch(w, target, "")
}

func zone(offset int64) *time.Location {
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone("", int(offset))
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func mismatch(w wire.Value, target reflect.Type, detail string, args ...any) error {
	b := berrors.New(berrors.PhaseToHost, berrors.KindTypeMismatch).
		GoType(target.String()).
		PyType(w.TypeName())
	if detail != "" {
		b = b.Detail(detail, args...)
	}
	return b.Build()
}

func invalid(w wire.Value, target reflect.Type, cause error) error {
	return berrors.New(berrors.PhaseToHost, berrors.KindInvalidData).
		GoType(target.String()).
		PyType(w.TypeName()).
		Value(w.S).
		Cause(cause).
		Build()
}

func atIndex(err error, i int) error {
	var e *berrors.Error
	if errors.As(err, &e) {
		e.Path = append([]string{"[" + strconv.Itoa(i) + "]"}, e.Path...)
	}
	return err
}
