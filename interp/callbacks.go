package interp

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/pyerr"
	"github.com/caffeineduck/pyhost/wire"
)

// dispatcher answers the callbacks a guest makes while running a command:
// proxy operations go to the proxy space, pyhost.call to the host function
// registry.
type dispatcher struct {
	space *proxy.Space
	funcs *hostfunc.Registry
	guest *guest
	refs  *guestRefs // nil for commands issued by the runtime itself
}

// serve handles one callback frame and builds the reply.
func (d *dispatcher) serve(ctx context.Context, f *wire.Frame) *wire.Command {
	reply := &wire.Command{Kind: wire.KindReply, ID: f.ID, CB: f.CB}

	mark := d.mark()
	v, err := d.handle(ctx, f)
	d.settle(mark, frameValues(f))

	if err != nil {
		d.guest.log.Debug("callback failed",
			zap.String("op", f.Op),
			zap.String("name", f.Name),
			zap.Error(err))
		reply.Err = pyerr.ToWire(err, d.space)
		return reply
	}
	reply.Value = &v
	return reply
}

func (d *dispatcher) handle(ctx context.Context, f *wire.Frame) (v wire.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &proxy.PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	if f.Op != wire.CallHostFunc {
		return d.space.Dispatch(ctx, f)
	}

	if len(f.Kwargs) > 0 {
		return wire.Value{}, berrors.New(berrors.PhaseDispatch, berrors.KindWrongArity).
			Path(f.Name).
			Detail("host functions do not take keyword arguments").
			Build()
	}
	conv := d.space.Converter()
	args := make([]any, len(f.Args))
	for i, a := range f.Args {
		if args[i], err = conv.Default(a); err != nil {
			return wire.Value{}, fmt.Errorf("%s argument %d: %w", f.Name, i, err)
		}
	}
	out, err := d.funcs.Call(ctx, f.Name, args)
	if err != nil {
		return wire.Value{}, err
	}
	return conv.ToGuest(out)
}

func (d *dispatcher) mark() int {
	if d.refs == nil {
		return 0
	}
	return d.refs.mark()
}

// settle releases the guest references carried by values that no Go value
// took ownership of.
func (d *dispatcher) settle(mark int, values []wire.Value) {
	if d.refs != nil {
		d.refs.settle(mark, values)
		return
	}
	for _, ref := range collectRefs(values, nil) {
		d.guest.releaseRef(ref)
	}
}

func frameValues(f *wire.Frame) []wire.Value {
	values := append([]wire.Value(nil), f.Args...)
	for _, v := range f.Kwargs {
		values = append(values, v)
	}
	return values
}

// collectRefs appends every guest reference found in values, once per
// occurrence.
func collectRefs(values []wire.Value, out []int64) []int64 {
	for _, v := range values {
		switch v.T {
		case wire.TagRef:
			out = append(out, v.Handle)
		case wire.TagList, wire.TagTuple:
			out = collectRefs(v.Items, out)
		case wire.TagDict:
			for _, e := range v.Entries {
				out = collectRefs([]wire.Value{e.K, e.V}, out)
			}
		}
	}
	return out
}
