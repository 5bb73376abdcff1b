package proxy

import (
	"context"
	"hash/maphash"
	"reflect"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

var hashSeed = maphash.MakeSeed()

// MethodRef is the value getattr returns for a method attribute: the guest
// binds it to the proxy it was read from.
func MethodRef(handle int64, name string) wire.Value {
	return wire.Value{T: wire.TagProxy, Handle: handle, Kind: string(hosttype.KindMethod), Class: name}
}

// Dispatch runs one guest callback against the proxy objects of this space.
// ctx is the context of the host call the callback is nested in.
func (s *Space) Dispatch(ctx context.Context, f *wire.Frame) (wire.Value, error) {
	if f.Op == wire.CallFindClass {
		return s.findClass(f.Name)
	}

	obj, err := s.Object(f.Handle)
	if err != nil {
		return wire.Value{}, err
	}
	if len(f.Kwargs) > 0 {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindWrongArity).
			Path(obj.Name).
			Detail("Go functions do not take keyword arguments").
			Build()
	}

	switch f.Op {
	case wire.CallGetAttr:
		return s.getAttr(f.Handle, obj, f.Name)
	case wire.CallSetAttr:
		if len(f.Args) != 1 {
			return wire.Value{}, arity(f.Op, 1, len(f.Args))
		}
		return wire.None(), s.setAttr(obj, f.Name, f.Args[0])
	case wire.CallStr:
		return wire.Str(obj.String()), nil
	case wire.CallEq:
		if len(f.Args) != 1 {
			return wire.Value{}, arity(f.Op, 1, len(f.Args))
		}
		return wire.Bool(s.equal(obj, f.Args[0])), nil
	case wire.CallHash:
		return s.hash(obj)
	case wire.CallConstruct:
		return s.construct(ctx, obj, f.Args)
	case wire.CallCall:
		if obj.IsClass() {
			return s.construct(ctx, obj, f.Args)
		}
		return s.call(ctx, obj, f.Args)
	case wire.CallInvoke:
		return s.invoke(ctx, obj, f.Name, f.Args)
	case wire.CallLen:
		return s.length(obj)
	case wire.CallContains:
		if len(f.Args) != 1 {
			return wire.Value{}, arity(f.Op, 1, len(f.Args))
		}
		return s.contains(obj, f.Args[0])
	case wire.CallGetItem:
		if len(f.Args) != 1 {
			return wire.Value{}, arity(f.Op, 1, len(f.Args))
		}
		return s.getItem(obj, f.Args[0])
	case wire.CallSetItem:
		if len(f.Args) != 2 {
			return wire.Value{}, arity(f.Op, 2, len(f.Args))
		}
		return wire.None(), s.setItem(obj, f.Args[0], f.Args[1])
	case wire.CallDelItem:
		if len(f.Args) != 1 {
			return wire.Value{}, arity(f.Op, 1, len(f.Args))
		}
		return wire.None(), s.delItem(obj, f.Args[0])
	case wire.CallIter:
		return s.iter(f.Handle, obj)
	case wire.CallNext:
		return s.next(ctx, obj)
	case wire.CallKeys:
		return s.keys(obj)
	case wire.CallValues:
		return s.values(obj)
	}
	return wire.Value{}, berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
		Detail("unknown host operation %q", f.Op).
		Build()
}

func (s *Space) findClass(name string) (wire.Value, error) {
	def, ok := s.registry.Find(name)
	if !ok {
		return wire.Value{}, berrors.NotFound("class", name)
	}
	return s.ExportClass(def)
}

func (s *Space) getAttr(h int64, obj *Object, name string) (wire.Value, error) {
	attr, ok := obj.table.Get(name)
	if !ok {
		return wire.Value{}, berrors.NoAttribute(obj.Name, name)
	}
	switch attr.Kind {
	case AttrMethod, AttrGroup:
		return MethodRef(h, name), nil
	}

	if obj.IsClass() && !attr.Field.Static {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindAttribute).
			Path(obj.Name, name).
			Detail("'%s' is an instance field of %s", name, obj.Name).
			Build()
	}
	v, err := attr.Field.Get(obj.Value)
	if err != nil {
		return wire.Value{}, err
	}
	return s.conv.ToGuestValue(v)
}

func (s *Space) setAttr(obj *Object, name string, w wire.Value) error {
	attr, ok := obj.table.Get(name)
	if !ok {
		return berrors.NoAttribute(obj.Name, name)
	}
	if attr.Kind != AttrField {
		return berrors.New(berrors.PhaseDispatch, berrors.KindAttribute).
			Path(obj.Name, name).
			Detail("cannot set method '%s' of '%s'", name, obj.Name).
			Build()
	}
	if obj.IsClass() && !attr.Field.Static {
		return berrors.New(berrors.PhaseDispatch, berrors.KindAttribute).
			Path(obj.Name, name).
			Detail("cannot set instance field '%s' on class %s", name, obj.Name).
			Build()
	}
	t, err := attr.Field.Type()
	if err != nil {
		return err
	}
	v, err := s.conv.ToHost(w, t)
	if err != nil {
		return err
	}
	return attr.Field.Set(obj.Value, v)
}

func (s *Space) equal(obj *Object, w wire.Value) bool {
	if w.T != wire.TagProxy {
		return false
	}
	other, ok := s.handles.Get(w.Handle)
	if !ok {
		return false
	}
	if obj.IsClass() || other.IsClass() {
		return obj.IsClass() && other.IsClass() && obj.Type == other.Type
	}
	a, b := obj.Value, other.Value
	if a.Type() != b.Type() {
		return false
	}
	if a.Comparable() {
		return a.Equal(b)
	}
	return false
}

func (s *Space) hash(obj *Object) (wire.Value, error) {
	if obj.IsClass() {
		return wire.Uint(maphash.String(hashSeed, classKey(obj.Type)) >> 1), nil
	}
	if !obj.Value.Comparable() {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
			GoType(obj.Type.String()).
			Detail("unhashable type: '%s'", obj.Name).
			Build()
	}
	// Python hashes are signed; keep the value within int64.
	return wire.Uint(maphash.Comparable(hashSeed, obj.Value.Interface()) >> 1), nil
}

func (s *Space) construct(ctx context.Context, obj *Object, args []wire.Value) (wire.Value, error) {
	if !obj.IsClass() {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
			Path(obj.Name).
			Detail("'%s' object is not a class", obj.Name).
			Build()
	}
	g, err := obj.table.Constructors()
	if err != nil {
		return wire.Value{}, err
	}
	return s.dispatch(ctx, g, reflect.Value{}, args)
}

func (s *Space) call(ctx context.Context, obj *Object, args []wire.Value) (wire.Value, error) {
	if obj.Type.Kind() != reflect.Func {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
			Path(obj.Name).
			Detail("'%s' object is not callable", obj.Name).
			Build()
	}
	m, err := obj.callable()
	if err != nil {
		return wire.Value{}, err
	}
	return s.dispatch(ctx, &Group{Name: obj.Name, Methods: []*Method{m}}, reflect.Value{}, args)
}

// invoke calls a method by name. Through a class proxy, instance methods
// take their receiver from the first argument.
func (s *Space) invoke(ctx context.Context, obj *Object, name string, args []wire.Value) (wire.Value, error) {
	attr, ok := obj.table.Get(name)
	if !ok {
		return wire.Value{}, berrors.NoAttribute(obj.Name, name)
	}
	g := attr.candidates()
	if g == nil {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
			Path(obj.Name, name).
			Detail("'%s' attribute of %s is not callable", name, obj.Name).
			Build()
	}

	if !obj.IsClass() {
		return s.dispatch(ctx, g, obj.Value, args)
	}

	statics := &Group{Name: g.Name}
	instance := &Group{Name: g.Name}
	for _, m := range g.Methods {
		if m.IsStatic() {
			statics.Methods = append(statics.Methods, m)
		} else {
			instance.Methods = append(instance.Methods, m)
		}
	}
	if len(instance.Methods) == 0 || len(args) == 0 {
		if len(statics.Methods) == 0 {
			return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindWrongArity).
				Path(obj.Name, name).
				Detail("unbound method %s.%s needs a receiver", obj.Name, name).
				Build()
		}
		return s.dispatch(ctx, statics, reflect.Value{}, args)
	}
	if len(statics.Methods) > 0 {
		if ch, err := statics.Resolve(s.conv, args); err == nil {
			return s.invokeChoice(ctx, ch, reflect.Value{}, args)
		}
	}
	recv, err := s.conv.ToHost(args[0], hosttype.TypeAny)
	if err != nil {
		return wire.Value{}, err
	}
	return s.dispatch(ctx, instance, recv, args[1:])
}

func (s *Space) dispatch(ctx context.Context, g *Group, recv reflect.Value, args []wire.Value) (wire.Value, error) {
	ch, err := g.Resolve(s.conv, args)
	if err != nil {
		return wire.Value{}, err
	}
	return s.invokeChoice(ctx, ch, recv, args)
}

func (s *Space) invokeChoice(ctx context.Context, ch Choice, recv reflect.Value, args []wire.Value) (wire.Value, error) {
	out, err := ch.Method.Invoke(ctx, s.conv, recv, args, ch.Spread)
	if err != nil {
		return wire.Value{}, err
	}
	if ch.Method.ReturnID() == hosttype.Void {
		return wire.None(), nil
	}
	return s.conv.ToGuestValue(out)
}

func arity(op string, want, got int) error {
	return berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
		Detail("%s takes %d arguments, got %d", op, want, got).
		Build()
}
