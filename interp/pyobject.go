package interp

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"runtime"
	"sync/atomic"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

var (
	pyObjectType   = reflect.TypeFor[*PyObject]()
	pyIteratorType = reflect.TypeFor[*PyIterator]()
)

// PyObject is a Go handle to a Python object without a Go counterpart. It
// keeps the object alive until Close, or until the handle is garbage
// collected. Like its Context, it may only be used on the context's
// goroutine.
type PyObject struct {
	ctx     *Context
	ref     int64
	kind    string
	class   string
	closed  atomic.Bool
	cleanup runtime.Cleanup
}

type guestRef struct {
	g   *guest
	ref int64
}

func releaseGuestRef(r guestRef) { r.g.releaseRef(r.ref) }

func newPyObject(c *Context, w wire.Value) *PyObject {
	o := &PyObject{ctx: c, ref: w.Handle, kind: w.Kind, class: w.Class}
	o.cleanup = runtime.AddCleanup(o, releaseGuestRef, guestRef{c.guest, w.Handle})
	return o
}

// Class returns the name of the object's Python type.
func (o *PyObject) Class() string { return o.class }

// Callable reports whether the object can be called.
func (o *PyObject) Callable() bool {
	return o.kind == string(hosttype.KindCallable)
}

func (o *PyObject) check() error {
	if o.closed.Load() {
		return berrors.New(berrors.PhaseLifecycle, berrors.KindClosed).
			Detail("%s object already closed", o.class).
			Build()
	}
	return o.ctx.check()
}

func (o *PyObject) command(ctx context.Context, cmd *wire.Command) (wire.Value, error) {
	if err := o.check(); err != nil {
		return wire.Value{}, err
	}
	cmd.Ref = o.ref
	return o.ctx.command(ctx, cmd)
}

// GetAttr reads an attribute.
func (o *PyObject) GetAttr(ctx context.Context, name string) (any, error) {
	w, err := o.command(ctx, &wire.Command{Op: wire.OpGetAttr, Attr: name})
	if err != nil {
		return nil, err
	}
	return o.ctx.resultAny(w)
}

// SetAttr assigns an attribute.
func (o *PyObject) SetAttr(ctx context.Context, name string, value any) error {
	if err := o.check(); err != nil {
		return err
	}
	w, err := o.ctx.d.space.Converter().ToGuest(value)
	if err != nil {
		return err
	}
	_, err = o.command(ctx, &wire.Command{Op: wire.OpSetAttr, Attr: name, Value: &w})
	return err
}

// CallMethod calls a method of the object.
func (o *PyObject) CallMethod(ctx context.Context, name string, args ...any) (any, error) {
	return o.CallMethodKw(ctx, name, args, nil)
}

// CallMethodKw is CallMethod with keyword arguments.
func (o *PyObject) CallMethodKw(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	values, err := o.ctx.marshalArgs(args, false)
	if err != nil {
		return nil, err
	}
	kw, err := o.kwargs(kwargs)
	if err != nil {
		return nil, err
	}
	w, err := o.command(ctx, &wire.Command{Op: wire.OpInvoke, Attr: name, Args: values, Kwargs: kw})
	if err != nil {
		return nil, err
	}
	return o.ctx.resultAny(w)
}

// Call calls the object itself.
func (o *PyObject) Call(ctx context.Context, args ...any) (any, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	w, err := o.ctx.invokeRef(ctx, o.ref, args, nil)
	if err != nil {
		return nil, err
	}
	return o.ctx.resultAny(w)
}

func (o *PyObject) kwargs(kwargs map[string]any) (map[string]wire.Value, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	out := make(map[string]wire.Value, len(kwargs))
	conv := o.ctx.d.space.Converter()
	for k, v := range kwargs {
		w, err := conv.ToGuest(v)
		if err != nil {
			return nil, err
		}
		out[k] = w
	}
	return out, nil
}

// Str returns str(object).
func (o *PyObject) Str(ctx context.Context) (string, error) {
	w, err := o.command(ctx, &wire.Command{Op: wire.OpStr})
	if err != nil {
		return "", err
	}
	return w.S, nil
}

// String implements fmt.Stringer. Off the owning goroutine, or once closed,
// it describes the handle instead of the object.
func (o *PyObject) String() string {
	if s, err := o.Str(context.Background()); err == nil {
		return s
	}
	return fmt.Sprintf("<python %s object>", o.class)
}

// Close drops the reference to the Python object. It is safe to call more
// than once.
func (o *PyObject) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	o.cleanup.Stop()
	o.ctx.guest.releaseRef(o.ref)
	return nil
}

// PyIterator is a Python iterator consumed from Go. It satisfies
// hosttype.Iterator, so Go methods taking an Iterator accept Python
// generators.
type PyIterator struct {
	obj     *PyObject
	fetched bool
	done    bool
	next    any
	err     error
}

// Object returns the underlying handle.
func (it *PyIterator) Object() *PyObject { return it.obj }

// HasNext fetches the next element if needed and reports whether there is
// one. A failure while fetching ends the iteration and is returned by Next
// and Err.
func (it *PyIterator) HasNext() bool {
	if !it.fetched && !it.done {
		it.fetch(context.Background())
	}
	return it.fetched
}

// Next returns the next element, or errors.ErrNoMoreElements once the
// iterator is exhausted.
func (it *PyIterator) Next() (any, error) {
	if !it.HasNext() {
		if it.err != nil {
			return nil, it.err
		}
		return nil, berrors.NoMoreElements()
	}
	v := it.next
	it.fetched, it.next = false, nil
	return v, nil
}

func (it *PyIterator) fetch(ctx context.Context) {
	w, err := it.obj.command(ctx, &wire.Command{Op: wire.OpNext})
	if err != nil {
		it.done = true
		if kind, ok := berrors.KindOf(err); !ok || kind != berrors.KindExhausted {
			it.err = err
		}
		return
	}
	it.next, it.err = it.obj.ctx.resultAny(w)
	if it.err != nil {
		it.done = true
		return
	}
	it.fetched = true
}

// Err returns the error that ended the iteration, if any.
func (it *PyIterator) Err() error { return it.err }

// All ranges over the remaining elements. Iteration stops at the first
// error, which is yielded with a nil element.
func (it *PyIterator) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			if !it.fetched && !it.done {
				it.fetch(ctx)
			}
			if !it.fetched {
				if it.err != nil {
					yield(nil, it.err)
				}
				return
			}
			v := it.next
			it.fetched, it.next = false, nil
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close releases the iterator.
func (it *PyIterator) Close() error { return it.obj.Close() }

func (it *PyIterator) String() string { return it.obj.String() }

// guestRefs connects a Context's converter to Python objects. Every
// reference the guest sends carries one count owned by the host; counts
// not taken over by a PyObject are released after the value is converted.
type guestRefs struct {
	c       *Context
	wrapped []int64
}

// Wrap implements convert.GuestRefs.
func (r *guestRefs) Wrap(w wire.Value, target reflect.Type) (reflect.Value, error) {
	r.wrapped = append(r.wrapped, w.Handle)
	obj := newPyObject(r.c, w)

	rv := reflect.ValueOf(obj)
	if w.Kind == string(hosttype.KindIterator) && target != pyObjectType {
		rv = reflect.ValueOf(&PyIterator{obj: obj})
	}
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	obj.Close()
	return reflect.Value{}, berrors.TypeMismatch(berrors.PhaseToHost, nil, target.String(), w.TypeName())
}

// Unwrap implements convert.GuestRefs.
func (r *guestRefs) Unwrap(rv reflect.Value) (wire.Value, bool) {
	if !rv.CanInterface() {
		return wire.Value{}, false
	}
	var obj *PyObject
	switch x := rv.Interface().(type) {
	case *PyObject:
		obj = x
	case *PyIterator:
		if x != nil {
			obj = x.obj
		}
	}
	if obj == nil || obj.closed.Load() || obj.ctx.guest != r.c.guest {
		return wire.Value{}, false
	}
	return wire.Ref(obj.ref, obj.kind, obj.class), true
}

// Type implements convert.GuestRefs.
func (r *guestRefs) Type(w wire.Value) reflect.Type {
	if w.Kind == string(hosttype.KindIterator) {
		return pyIteratorType
	}
	return pyObjectType
}

func (r *guestRefs) mark() int { return len(r.wrapped) }

// settle releases the references in values that were not wrapped since
// mark, and forgets the wraps.
func (r *guestRefs) settle(mark int, values []wire.Value) {
	refs := collectRefs(values, nil)
	if len(refs) == 0 {
		r.wrapped = r.wrapped[:mark]
		return
	}
	taken := make(map[int64]int, len(r.wrapped)-mark)
	for _, h := range r.wrapped[mark:] {
		taken[h]++
	}
	r.wrapped = r.wrapped[:mark]
	for _, h := range refs {
		if taken[h] > 0 {
			taken[h]--
			continue
		}
		r.c.guest.releaseRef(h)
	}
}
