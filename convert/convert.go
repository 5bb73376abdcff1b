// Package convert translates between Go values and marshalled Python
// values, and scores how well a Python value fits a Go parameter type.
package convert

import (
	"encoding/base64"
	"math/big"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

// Exporter places Go values in the host handle table so that Python can
// hold them by reference.
type Exporter interface {
	Export(rv reflect.Value, kind hosttype.ProxyKind) (wire.Value, error)
	Lookup(handle int64) (reflect.Value, bool)
}

// GuestRefs bridges Python objects that have no Go counterpart.
type GuestRefs interface {
	// Wrap takes ownership of one guest reference and returns a Go value
	// assignable to target.
	Wrap(v wire.Value, target reflect.Type) (reflect.Value, error)
	// Unwrap reports the guest reference behind a Go value, if any.
	Unwrap(rv reflect.Value) (wire.Value, bool)
	// Type is the Go type Wrap produces for v when the target is any.
	Type(v wire.Value) reflect.Type
}

var (
	timeType      = reflect.TypeFor[time.Time]()
	bigIntType    = reflect.TypeFor[*big.Int]()
	bigFloatType  = reflect.TypeFor[*big.Float]()
	decimalType   = reflect.TypeFor[apd.Decimal]()
	decimalPtr    = reflect.TypeFor[*apd.Decimal]()
	anySliceType  = reflect.TypeFor[[]any]()
	stringMapType = reflect.TypeFor[map[string]any]()
)

// Converter performs conversions for one handle table.
type Converter struct {
	exp  Exporter
	refs GuestRefs
}

// New returns a Converter. Either collaborator may be nil; values that need
// a missing collaborator fail with a conversion error.
func New(exp Exporter, refs GuestRefs) *Converter {
	return &Converter{exp: exp, refs: refs}
}

// ToGuest marshals v for Python.
func (c *Converter) ToGuest(v any) (wire.Value, error) {
	return c.ToGuestValue(reflect.ValueOf(v))
}

// ToGuestValue marshals rv, dispatching on its dynamic type.
func (c *Converter) ToGuestValue(rv reflect.Value) (wire.Value, error) {
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return wire.None(), nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return wire.None(), nil
	}

	if c.refs != nil {
		if w, ok := c.refs.Unwrap(rv); ok {
			return w, nil
		}
	}

	t := rv.Type()
	switch t {
	case hosttype.TypeChar:
		return wire.Str(string(rune(rv.Int()))), nil
	case timeType:
		return dateTimeValue(rv.Interface().(time.Time)), nil
	case hosttype.TypeDate:
		return dateValue(rv.Interface().(hosttype.Date))
	case hosttype.TypeTimeOfDay:
		return timeValue(rv.Interface().(hosttype.TimeOfDay))
	case bigIntType:
		if rv.IsNil() {
			return wire.None(), nil
		}
		return wire.Value{T: wire.TagInt, S: rv.Interface().(*big.Int).String()}, nil
	case bigFloatType:
		if rv.IsNil() {
			return wire.None(), nil
		}
		return wire.Value{T: wire.TagDecimal, S: rv.Interface().(*big.Float).Text('g', -1)}, nil
	case decimalPtr:
		if rv.IsNil() {
			return wire.None(), nil
		}
		return wire.Value{T: wire.TagDecimal, S: rv.Interface().(*apd.Decimal).String()}, nil
	case decimalType:
		d := rv.Interface().(apd.Decimal)
		return wire.Value{T: wire.TagDecimal, S: d.String()}, nil
	}
	if hosttype.IsContainer(t) {
		return c.export(rv)
	}

	switch t.Kind() {
	case reflect.Bool:
		return wire.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return wire.Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return wire.Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return wire.Float(rv.Float()), nil
	case reflect.String:
		return wire.Str(rv.String()), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return wire.None(), nil
		}
		if hosttype.IsBoxed(t) {
			return c.ToGuestValue(rv.Elem())
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return bytesValue(rv.Bytes()), nil
		}
		return c.sequence(wire.TagList, rv)
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return bytesValue(b), nil
		}
		return c.sequence(wire.TagTuple, rv)
	case reflect.Map:
		return c.mapping(rv)
	case reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Invalid:
		return wire.Value{}, berrors.Unrecognized(berrors.PhaseToGuest, t.String())
	}

	return c.export(rv)
}

func (c *Converter) export(rv reflect.Value) (wire.Value, error) {
	if c.exp == nil {
		return wire.Value{}, berrors.New(berrors.PhaseToGuest, berrors.KindUnrecognizedType).
			GoType(rv.Type().String()).
			Detail("no handle table to expose value by reference").
			Build()
	}
	if rv.Kind() == reflect.Struct && !rv.CanAddr() {
		cp := reflect.New(rv.Type()).Elem()
		cp.Set(rv)
		rv = cp
	}
	return c.exp.Export(rv, hosttype.ProxyKindOf(rv.Type()))
}

func (c *Converter) sequence(tag wire.Tag, rv reflect.Value) (wire.Value, error) {
	items := make([]wire.Value, rv.Len())
	for i := range items {
		item, err := c.ToGuestValue(rv.Index(i))
		if err != nil {
			return wire.Value{}, err
		}
		items[i] = item
	}
	return wire.Value{T: tag, Items: items}, nil
}

func (c *Converter) mapping(rv reflect.Value) (wire.Value, error) {
	entries := make([]wire.Entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := c.ToGuestValue(iter.Key())
		if err != nil {
			return wire.Value{}, err
		}
		v, err := c.ToGuestValue(iter.Value())
		if err != nil {
			return wire.Value{}, err
		}
		entries = append(entries, wire.Entry{K: k, V: v})
	}
	return wire.Value{T: wire.TagDict, Entries: entries}, nil
}

func bytesValue(b []byte) wire.Value {
	return wire.Value{T: wire.TagBytes, S: base64.StdEncoding.EncodeToString(b)}
}

func dateValue(d hosttype.Date) (wire.Value, error) {
	if !d.IsValid() {
		return wire.Value{}, berrors.New(berrors.PhaseToGuest, berrors.KindInvalidData).
			GoType("hosttype.Date").
			Detail("invalid date %s", d).
			Build()
	}
	return wire.Value{T: wire.TagDate, F: []int64{int64(d.Year), int64(d.Month), int64(d.Day)}}, nil
}

func timeValue(t hosttype.TimeOfDay) (wire.Value, error) {
	if !t.IsValid() {
		return wire.Value{}, berrors.New(berrors.PhaseToGuest, berrors.KindInvalidData).
			GoType("hosttype.TimeOfDay").
			Detail("invalid time of day %+v", t).
			Build()
	}
	return wire.Value{T: wire.TagTime, F: []int64{
		int64(t.Hour), int64(t.Minute), int64(t.Second), int64(t.Nanosecond / 1000),
	}}, nil
}

func dateTimeValue(t time.Time) wire.Value {
	_, off := t.Zone()
	offset := int64(off)
	return wire.Value{
		T: wire.TagDateTime,
		F: []int64{
			int64(t.Year()), int64(t.Month()), int64(t.Day()),
			int64(t.Hour()), int64(t.Minute()), int64(t.Second()), int64(t.Nanosecond() / 1000),
		},
		Offset: &offset,
	}
}
