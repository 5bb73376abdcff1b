package interp

import (
	"context"
	"reflect"
	"strings"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/wire"
)

// fastArgs is the largest positional argument count sent without
// reflection when every argument is a scalar.
const fastArgs = 2

// Scalar is the set of argument types the fixed-arity call variants accept.
type Scalar interface {
	~bool | ~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~string
}

// Exec runs Python source in the context's namespace. Empty source is a
// no-op.
func (c *Context) Exec(ctx context.Context, code string) error {
	if err := c.check(); err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return nil
	}
	c.invalidate("")
	_, err := c.command(ctx, &wire.Command{Op: wire.OpExec, Code: code})
	return err
}

// Set binds name in the namespace. A nil value becomes None.
func (c *Context) Set(ctx context.Context, name string, value any) error {
	if err := c.check(); err != nil {
		return err
	}
	w, err := c.d.space.Converter().ToGuest(value)
	if err != nil {
		return err
	}
	c.invalidate(name)
	_, err = c.command(ctx, &wire.Command{Op: wire.OpSet, Name: name, Value: &w})
	return err
}

// Get converts the value bound to name into out, which must be a non-nil
// pointer.
func (c *Context) Get(ctx context.Context, name string, out any) error {
	target, err := outTarget(out)
	if err != nil {
		return err
	}
	w, err := c.command(ctx, &wire.Command{Op: wire.OpGet, Name: name})
	if err != nil {
		return err
	}
	rv, err := c.result(w, target.Type())
	if err != nil {
		return err
	}
	target.Set(rv)
	return nil
}

// Value returns the value bound to name in its default Go form.
func (c *Context) Value(ctx context.Context, name string) (any, error) {
	w, err := c.command(ctx, &wire.Command{Op: wire.OpGet, Name: name})
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

// GetAs returns the value bound to name converted to T.
func GetAs[T any](ctx context.Context, c *Context, name string) (T, error) {
	var out T
	err := c.Get(ctx, name, &out)
	return out, err
}

// Call calls a function by name. The name is either bare, looked up in the
// namespace and then in builtins, or "module.attr", split on the first dot.
func (c *Context) Call(ctx context.Context, name string, args ...any) (any, error) {
	return c.CallKw(ctx, name, args, nil)
}

// CallKw is Call with keyword arguments.
func (c *Context) CallKw(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	w, err := c.call(ctx, name, args, kwargs)
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

// CallAs calls a function and converts its result to T.
func CallAs[T any](ctx context.Context, c *Context, name string, args ...any) (T, error) {
	var out T
	w, err := c.call(ctx, name, args, nil)
	if err != nil {
		return out, err
	}
	rv, err := c.result(w, reflect.TypeFor[T]())
	if err != nil {
		return out, err
	}
	return rv.Interface().(T), nil
}

// Call0 calls a function without arguments.
func Call0(ctx context.Context, c *Context, name string) (any, error) {
	return c.fastCall(ctx, name, nil)
}

// Call1 calls a function with one scalar argument.
func Call1[A Scalar](ctx context.Context, c *Context, name string, a A) (any, error) {
	return c.fastCall(ctx, name, []any{a})
}

// CallMethod calls a method of the object bound to object in the
// namespace.
func (c *Context) CallMethod(ctx context.Context, object, method string, args ...any) (any, error) {
	return c.CallMethodKw(ctx, object, method, args, nil)
}

// CallMethodKw is CallMethod with keyword arguments.
func (c *Context) CallMethodKw(ctx context.Context, object, method string, args []any, kwargs map[string]any) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ref, err := c.boundMethod(ctx, object, method)
	if err != nil {
		return nil, err
	}
	w, err := c.invokeRef(ctx, ref, args, kwargs)
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

// CallMethod0 calls a method without arguments.
func CallMethod0(ctx context.Context, c *Context, object, method string) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ref, err := c.boundMethod(ctx, object, method)
	if err != nil {
		return nil, err
	}
	w, err := c.fastRef(ctx, ref, nil)
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

// CallMethod1 calls a method with one scalar argument.
func CallMethod1[A Scalar](ctx context.Context, c *Context, object, method string, a A) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ref, err := c.boundMethod(ctx, object, method)
	if err != nil {
		return nil, err
	}
	w, err := c.fastRef(ctx, ref, []any{a})
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

func (c *Context) call(ctx context.Context, name string, args []any, kwargs map[string]any) (wire.Value, error) {
	if err := c.check(); err != nil {
		return wire.Value{}, err
	}
	ref, err := c.function(ctx, name)
	if err != nil {
		return wire.Value{}, err
	}
	return c.invokeRef(ctx, ref, args, kwargs)
}

func (c *Context) fastCall(ctx context.Context, name string, args []any) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ref, err := c.function(ctx, name)
	if err != nil {
		return nil, err
	}
	w, err := c.fastRef(ctx, ref, args)
	if err != nil {
		return nil, err
	}
	return c.resultAny(w)
}

// invokeRef calls a guest callable. Short scalar argument lists without
// keywords skip the reflective converter.
func (c *Context) invokeRef(ctx context.Context, ref int64, args []any, kwargs map[string]any) (wire.Value, error) {
	cmd := &wire.Command{Op: wire.OpCall, Ref: ref}
	var err error
	if cmd.Args, err = c.marshalArgs(args, len(kwargs) == 0 && len(args) <= fastArgs); err != nil {
		return wire.Value{}, err
	}
	if len(kwargs) > 0 {
		cmd.Kwargs = make(map[string]wire.Value, len(kwargs))
		conv := c.d.space.Converter()
		for k, v := range kwargs {
			if cmd.Kwargs[k], err = conv.ToGuest(v); err != nil {
				return wire.Value{}, berrors.New(berrors.PhaseToGuest, berrors.KindTypeMismatch).
					Path(k).
					Detail("keyword argument").
					Cause(err).
					Build()
			}
		}
	}
	return c.command(ctx, cmd)
}

func (c *Context) fastRef(ctx context.Context, ref int64, args []any) (wire.Value, error) {
	values, err := c.marshalArgs(args, true)
	if err != nil {
		return wire.Value{}, err
	}
	return c.command(ctx, &wire.Command{Op: wire.OpCall, Ref: ref, Args: values})
}

func (c *Context) marshalArgs(args []any, fast bool) ([]wire.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]wire.Value, len(args))
	conv := c.d.space.Converter()
	for i, a := range args {
		if fast {
			if w, ok := scalarAny(a); ok {
				out[i] = w
				continue
			}
		}
		w, err := conv.ToGuest(a)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// result converts a command result to target. Guest references in w that
// the conversion did not take are released.
func (c *Context) result(w wire.Value, target reflect.Type) (reflect.Value, error) {
	mark := c.refs.mark()
	rv, err := c.d.space.Converter().ToHost(w, target)
	c.refs.settle(mark, []wire.Value{w})
	return rv, err
}

func (c *Context) resultAny(w wire.Value) (any, error) {
	rv, err := c.result(w, nil)
	if err != nil || !rv.IsValid() {
		return nil, err
	}
	return rv.Interface(), nil
}

func outTarget(out any) (reflect.Value, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		goType := "nil"
		if out != nil {
			goType = rv.Type().String()
		}
		return reflect.Value{}, berrors.New(berrors.PhaseToHost, berrors.KindTypeMismatch).
			GoType(goType).
			Detail("out must be a non-nil pointer").
			Build()
	}
	return rv.Elem(), nil
}

// scalarAny marshals the common scalar types without reflection. Other
// types, named ones included, go through the converter.
func scalarAny(a any) (wire.Value, bool) {
	switch x := a.(type) {
	case nil:
		return wire.None(), true
	case bool:
		return wire.Bool(x), true
	case int:
		return wire.Int(int64(x)), true
	case int64:
		return wire.Int(x), true
	case int32:
		return wire.Int(int64(x)), true
	case uint64:
		return wire.Uint(x), true
	case float64:
		return wire.Float(x), true
	case string:
		return wire.Str(x), true
	}
	return wire.Value{}, false
}
