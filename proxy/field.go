package proxy

import (
	"reflect"
	"sync"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
)

// Field is an exported struct field or a registered static variable. Its
// declared type and type-id are resolved on first access.
type Field struct {
	Name   string
	Static bool

	owner reflect.Type  // struct type holding the field
	index []int         // instance fields
	ptr   reflect.Value // static fields: pointer to the variable

	once sync.Once
	typ  reflect.Type
	id   hosttype.TypeID
	err  error
}

func (f *Field) init() error {
	f.once.Do(func() {
		if f.Static {
			f.typ = f.ptr.Type().Elem()
		} else {
			f.typ = f.owner.FieldByIndex(f.index).Type
		}
		f.id, f.err = hosttype.Resolve(f.typ)
	})
	return f.err
}

// Type returns the declared type of the field.
func (f *Field) Type() (reflect.Type, error) {
	if err := f.init(); err != nil {
		return nil, err
	}
	return f.typ, nil
}

// TypeID returns the declared type-id of the field.
func (f *Field) TypeID() (hosttype.TypeID, error) {
	if err := f.init(); err != nil {
		return hosttype.Object, err
	}
	return f.id, nil
}

// Get reads the field from recv, which is ignored for static fields. The
// result is addressable when recv is a pointer, so nested structs are
// exported by reference.
func (f *Field) Get(recv reflect.Value) (reflect.Value, error) {
	if err := f.init(); err != nil {
		return reflect.Value{}, err
	}
	return f.locate(recv)
}

// Set writes v into the field, choosing the typed setter by type-id.
func (f *Field) Set(recv reflect.Value, v reflect.Value) error {
	if err := f.init(); err != nil {
		return err
	}
	dst, err := f.locate(recv)
	if err != nil {
		return err
	}
	if !dst.CanSet() {
		return berrors.New(berrors.PhaseDispatch, berrors.KindReadOnly).
			Path(f.Name).
			Detail("field %s is not settable on a value receiver", f.Name).
			Build()
	}

	switch k := dst.Kind(); {
	case f.id == hosttype.Boolean && k == reflect.Bool:
		dst.SetBool(v.Bool())
	case f.id.IsInteger() && dst.CanInt():
		dst.SetInt(v.Int())
	case f.id.IsInteger() && dst.CanUint():
		dst.SetUint(v.Uint())
	case (f.id == hosttype.Float || f.id == hosttype.Double) && dst.CanFloat():
		dst.SetFloat(v.Float())
	case f.id == hosttype.String && k == reflect.String:
		dst.SetString(v.String())
	default:
		dst.Set(v)
	}
	return nil
}

func (f *Field) locate(recv reflect.Value) (reflect.Value, error) {
	if f.Static {
		return f.ptr.Elem(), nil
	}
	for recv.IsValid() && (recv.Kind() == reflect.Pointer || recv.Kind() == reflect.Interface) {
		if recv.IsNil() {
			recv = reflect.Value{}
			break
		}
		recv = recv.Elem()
	}
	if !recv.IsValid() || recv.Type() != f.owner {
		return reflect.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindAttribute).
			Path(f.Name).
			Detail("instance field %s needs a %s receiver", f.Name, f.owner).
			Build()
	}
	v, err := recv.FieldByIndexErr(f.index)
	if err != nil {
		return reflect.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindAttribute).
			Path(f.Name).
			Cause(err).
			Build()
	}
	return v, nil
}
