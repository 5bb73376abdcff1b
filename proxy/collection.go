package proxy

import (
	"context"
	"errors"
	"reflect"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

func (s *Space) length(obj *Object) (wire.Value, error) {
	switch x := obj.iface().(type) {
	case hosttype.Collection:
		return wire.Int(int64(x.Len())), nil
	case hosttype.Map:
		return wire.Int(int64(x.Len())), nil
	}
	if obj.Type.Kind() == reflect.Chan {
		return wire.Int(int64(obj.Value.Len())), nil
	}
	return wire.Value{}, notSupported(obj, "len()")
}

func (s *Space) contains(obj *Object, w wire.Value) (wire.Value, error) {
	key, err := s.conv.Default(w)
	if err != nil {
		return wire.Value{}, err
	}
	switch x := obj.iface().(type) {
	case hosttype.Collection:
		return wire.Bool(x.Contains(key)), nil
	case hosttype.Map:
		return wire.Bool(x.ContainsKey(key)), nil
	}
	return wire.Value{}, notSupported(obj, "'in'")
}

func (s *Space) getItem(obj *Object, w wire.Value) (wire.Value, error) {
	switch x := obj.iface().(type) {
	case hosttype.List:
		i, err := s.index(x, w)
		if err != nil {
			return wire.Value{}, err
		}
		v, err := x.Get(i)
		if err != nil {
			return wire.Value{}, err
		}
		return s.conv.ToGuest(v)
	case hosttype.Map:
		key, err := s.conv.Default(w)
		if err != nil {
			return wire.Value{}, err
		}
		v, ok := x.Get(key)
		if !ok {
			return wire.Value{}, keyError(obj, key)
		}
		return s.conv.ToGuest(v)
	}
	return wire.Value{}, notSupported(obj, "subscript")
}

func (s *Space) setItem(obj *Object, kw, vw wire.Value) error {
	v, err := s.conv.Default(vw)
	if err != nil {
		return err
	}
	switch x := obj.iface().(type) {
	case hosttype.List:
		i, err := s.index(x, kw)
		if err != nil {
			return err
		}
		return x.Set(i, v)
	case hosttype.Map:
		key, err := s.conv.Default(kw)
		if err != nil {
			return err
		}
		return x.Put(key, v)
	}
	return notSupported(obj, "item assignment")
}

func (s *Space) delItem(obj *Object, kw wire.Value) error {
	m, ok := obj.iface().(hosttype.Map)
	if !ok {
		return notSupported(obj, "item deletion")
	}
	key, err := s.conv.Default(kw)
	if err != nil {
		return err
	}
	if !m.ContainsKey(key) {
		return keyError(obj, key)
	}
	return m.Remove(key)
}

// index converts a Python index, counting negative values from the end.
func (s *Space) index(l hosttype.List, w wire.Value) (int, error) {
	rv, err := s.conv.ToHost(w, reflect.TypeFor[int]())
	if err != nil {
		return 0, err
	}
	i, n := int(rv.Int()), l.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, berrors.New(berrors.PhaseDispatch, berrors.KindIndex).
			Value(rv.Int()).
			Detail("list index out of range").
			Build()
	}
	return i, nil
}

func (s *Space) iter(h int64, obj *Object) (wire.Value, error) {
	switch x := obj.iface().(type) {
	case hosttype.Iterable:
		return s.Export(reflect.ValueOf(x.Iterator()), hosttype.KindIterator)
	case hosttype.Map:
		return s.Export(reflect.ValueOf(SliceIterator(x.Keys())), hosttype.KindIterator)
	case hosttype.Iterator:
		s.handles.Retain(h)
		return wire.Proxy(h, string(hosttype.KindIterator), obj.Name), nil
	}
	if obj.Type.Kind() == reflect.Chan && obj.Type.ChanDir()&reflect.RecvDir != 0 {
		s.handles.Retain(h)
		return wire.Proxy(h, string(hosttype.KindIterator), obj.Name), nil
	}
	return wire.Value{}, notSupported(obj, "iteration")
}

// next pulls one element. Exhaustion is reported as errors.ErrNoMoreElements.
// Receiving from a channel gives up when ctx is done.
func (s *Space) next(ctx context.Context, obj *Object) (wire.Value, error) {
	if it, ok := obj.iface().(hosttype.Iterator); ok {
		if !it.HasNext() {
			return wire.Value{}, berrors.NoMoreElements()
		}
		v, err := it.Next()
		if err != nil {
			if errors.Is(err, berrors.ErrNoMoreElements) {
				return wire.Value{}, berrors.NoMoreElements()
			}
			return wire.Value{}, err
		}
		return s.conv.ToGuest(v)
	}

	if obj.Type.Kind() != reflect.Chan {
		return wire.Value{}, notSupported(obj, "next()")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	chosen, v, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: obj.Value},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	})
	if chosen == 1 {
		return wire.Value{}, ctx.Err()
	}
	if !ok {
		return wire.Value{}, berrors.NoMoreElements()
	}
	return s.conv.ToGuestValue(v)
}

func (s *Space) keys(obj *Object) (wire.Value, error) {
	m, ok := obj.iface().(hosttype.Map)
	if !ok {
		return wire.Value{}, notSupported(obj, "keys()")
	}
	return s.conv.ToGuest(m.Keys())
}

func (s *Space) values(obj *Object) (wire.Value, error) {
	m, ok := obj.iface().(hosttype.Map)
	if !ok {
		return wire.Value{}, notSupported(obj, "values()")
	}
	return s.conv.ToGuest(m.Values())
}

func (o *Object) iface() any {
	if !o.Value.IsValid() || !o.Value.CanInterface() {
		return nil
	}
	return o.Value.Interface()
}

func notSupported(obj *Object, what string) error {
	return berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
		GoType(obj.Type.String()).
		Detail("'%s' object does not support %s", obj.Name, what).
		Build()
}

func keyError(obj *Object, key any) error {
	return berrors.New(berrors.PhaseDispatch, berrors.KindKey).
		Path(obj.Name).
		Value(key).
		Detail("%v", key).
		Build()
}

// SliceIterator iterates over a fixed slice.
func SliceIterator(items []any) hosttype.Iterator {
	return &sliceIterator{items: items}
}

type sliceIterator struct {
	items []any
	pos   int
}

func (it *sliceIterator) HasNext() bool { return it.pos < len(it.items) }

func (it *sliceIterator) Next() (any, error) {
	if it.pos >= len(it.items) {
		return nil, berrors.NoMoreElements()
	}
	v := it.items[it.pos]
	it.pos++
	return v, nil
}
