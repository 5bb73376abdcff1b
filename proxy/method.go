package proxy

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/caffeineduck/pyhost/convert"
	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

var contextType = reflect.TypeFor[context.Context]()

// Method is one callable host function: a reflective method, a registered
// extra, a static function, a constructor, or a proxied Go func value.
type Method struct {
	Name string

	fn       reflect.Value
	recv     reflect.Type // nil for static functions
	ctx      bool         // context.Context follows the receiver
	params   []reflect.Type
	variadic bool
	result   reflect.Type // nil when nothing but an error is returned
	errOut   bool
	returnID hosttype.TypeID
}

func newMethod(name string, fn reflect.Value, hasRecv bool) (*Method, error) {
	m, err := parseFunc(name, fn, hasRecv)
	if err != nil {
		return nil, err
	}
	id, err := hosttype.Resolve(m.result)
	if err != nil {
		return nil, err
	}
	m.returnID = id
	return m, nil
}

// parseFunc checks the shape of fn without consulting the type registry.
func parseFunc(name string, fn reflect.Value, hasRecv bool) (*Method, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, berrors.New(berrors.PhaseRegistry, berrors.KindUnrecognizedType).
			Path(name).
			Detail("expected a func").
			Build()
	}
	ft := fn.Type()
	m := &Method{Name: name, fn: fn, variadic: ft.IsVariadic()}

	i := 0
	if hasRecv {
		if ft.NumIn() == 0 {
			return nil, berrors.New(berrors.PhaseRegistry, berrors.KindWrongArity).
				Path(name).
				Detail("method has no receiver parameter").
				Build()
		}
		m.recv = ft.In(0)
		i = 1
	}
	if i < ft.NumIn() && ft.In(i) == contextType {
		m.ctx = true
		i++
	}
	for ; i < ft.NumIn(); i++ {
		m.params = append(m.params, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == hosttype.TypeError {
			m.errOut = true
		} else {
			m.result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != hosttype.TypeError {
			return nil, berrors.New(berrors.PhaseRegistry, berrors.KindUnrecognizedType).
				Path(name).
				GoType(ft.String()).
				Detail("second result must be error").
				Build()
		}
		m.result = ft.Out(0)
		m.errOut = true
	default:
		return nil, berrors.New(berrors.PhaseRegistry, berrors.KindUnrecognizedType).
			Path(name).
			GoType(ft.String()).
			Detail("functions return at most (T, error)").
			Build()
	}
	return m, nil
}

// Params returns the parameter types that take part in scoring.
func (m *Method) Params() []reflect.Type { return m.params }

// IsStatic reports whether the method is called without a receiver.
func (m *Method) IsStatic() bool { return m.recv == nil }

// IsVariadic reports whether the last parameter is variadic.
func (m *Method) IsVariadic() bool { return m.variadic }

// ReturnID is the type-id of the result, Void when there is none.
func (m *Method) ReturnID() hosttype.TypeID { return m.returnID }

// Receiver is the receiver parameter type, nil for static functions.
func (m *Method) Receiver() reflect.Type { return m.recv }

func (m *Method) String() string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.String()
	}
	if m.variadic && len(names) > 0 {
		names[len(names)-1] = "..." + m.params[len(m.params)-1].Elem().String()
	}
	return m.Name + "(" + strings.Join(names, ", ") + ")"
}

// match scores args against the parameter list. spread is false when a
// variadic method should receive its last argument as the slice itself.
func (m *Method) match(conv *convert.Converter, args []wire.Value) (scores []int, spread bool, ok bool) {
	n := len(m.params)
	if !m.variadic {
		if len(args) != n {
			return nil, false, false
		}
		scores = make([]int, n)
		for i, a := range args {
			scores[i] = conv.Score(a, m.params[i])
		}
		return scores, false, true
	}

	fixed := n - 1
	if len(args) < fixed {
		return nil, false, false
	}
	elem := m.params[fixed].Elem()
	scores = make([]int, len(args))
	for i, a := range args {
		if i < fixed {
			scores[i] = conv.Score(a, m.params[i])
		} else {
			scores[i] = conv.Score(a, elem)
		}
	}
	spread = true

	if len(args) == n {
		whole := make([]int, n)
		copy(whole, scores[:fixed])
		whole[fixed] = conv.Score(args[fixed], m.params[fixed])
		if convert.Compare(whole, scores) > 0 {
			return whole, false, true
		}
	}
	return scores, spread, true
}

// Invoke converts args, calls the function and returns its result. recv is
// ignored for static functions. Panics in host code are recovered into a
// *PanicError.
func (m *Method) Invoke(ctx context.Context, conv *convert.Converter, recv reflect.Value, args []wire.Value, spread bool) (out reflect.Value, err error) {
	in := make([]reflect.Value, 0, len(args)+2)
	if m.recv != nil {
		r, err := receiverFor(recv, m.recv)
		if err != nil {
			return reflect.Value{}, err
		}
		in = append(in, r)
	}
	if m.ctx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}

	fixed := len(m.params)
	if m.variadic && spread {
		fixed--
	}
	for i, a := range args {
		var pt reflect.Type
		if i < fixed {
			pt = m.params[i]
		} else {
			pt = m.params[len(m.params)-1].Elem()
		}
		v, err := conv.ToHost(a, pt)
		if err != nil {
			return reflect.Value{}, argError(err, m.Name, i)
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	var results []reflect.Value
	if m.variadic && !spread {
		results = m.fn.CallSlice(in)
	} else {
		results = m.fn.Call(in)
	}

	if m.errOut {
		if e := results[len(results)-1]; !e.IsNil() {
			return reflect.Value{}, e.Interface().(error)
		}
	}
	if m.result == nil {
		return reflect.Value{}, nil
	}
	return results[0], nil
}

func receiverFor(rv reflect.Value, want reflect.Type) (reflect.Value, error) {
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch {
	case !rv.IsValid():
		return reflect.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
			GoType(want.String()).
			Detail("missing receiver").
			Build()
	case rv.Type().AssignableTo(want):
		return rv, nil
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(want):
		return rv.Elem(), nil
	case rv.CanAddr() && rv.Addr().Type().AssignableTo(want):
		return rv.Addr(), nil
	}
	return reflect.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindTypeMismatch).
		GoType(want.String()).
		Detail("receiver of type %s", rv.Type()).
		Build()
}

func argError(err error, name string, i int) error {
	if e, ok := err.(*berrors.Error); ok {
		e.Path = append([]string{name, fmt.Sprintf("arg%d", i)}, e.Path...)
	}
	return err
}

// PanicError is returned when host code panics during a proxied call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
