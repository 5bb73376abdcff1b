package interp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
	"go.uber.org/zap"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/wire"
)

// Mode selects how a Context is isolated from the others.
type Mode int

const (
	// Shared contexts get a fresh namespace in the primary interpreter.
	// Imported modules are shared between them.
	Shared Mode = iota
	// Isolated contexts run in an interpreter instance of their own.
	Isolated
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Isolated:
		return "isolated"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "shared" or "isolated".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "shared", "":
		return Shared, nil
	case "isolated":
		return Isolated, nil
	}
	return 0, berrors.New(berrors.PhaseLifecycle, berrors.KindInvalidMode).
		Value(s).
		Detail("unknown interpreter mode %q", s).
		Build()
}

// Context is a Python namespace bound to one goroutine. All of its methods
// must be called from the goroutine that attached it, including from Go
// code that Python calls back into.
type Context struct {
	rt    *Runtime
	id    string
	mode  Mode
	gid   int64
	guest *guest
	d     *dispatcher
	refs  *guestRefs

	closed atomic.Bool

	fn     cachedFunc
	method cachedMethod
}

// cachedFunc is the last function resolved by Call.
type cachedFunc struct {
	name string
	ref  int64
}

// cachedMethod is the last bound method resolved by CallMethod.
type cachedMethod struct {
	object string
	method string
	ref    int64
}

func newContext(r *Runtime, g *guest, mode Mode, gid int64, registry *proxy.Registry) *Context {
	c := &Context{
		rt:    r,
		id:    uuid.NewString(),
		mode:  mode,
		gid:   gid,
		guest: g,
	}
	c.refs = &guestRefs{c: c}
	c.d = &dispatcher{
		space: proxy.NewSpace(g.handles, registry, c.refs),
		funcs: r.cfg.funcs,
		guest: g,
		refs:  c.refs,
	}
	return c
}

// ID returns the unique identifier of the context.
func (c *Context) ID() string { return c.id }

// Mode returns the mode the context was attached with.
func (c *Context) Mode() Mode { return c.mode }

// Runtime returns the runtime the context belongs to.
func (c *Context) Runtime() *Runtime { return c.rt }

func (c *Context) check() error {
	if c.closed.Load() {
		return berrors.ErrContextClosed
	}
	if gid := goid.Get(); gid != c.gid {
		return berrors.New(berrors.PhaseLifecycle, berrors.KindWrongGoroutine).
			Detail("context %s belongs to goroutine %d, called from %d", c.id, c.gid, gid).
			Build()
	}
	return nil
}

// Detach releases the context. It must be called on the goroutine that
// attached it; a second call fails with errors.ErrContextClosed.
func (c *Context) Detach() error {
	if gid := goid.Get(); gid != c.gid {
		return berrors.New(berrors.PhaseLifecycle, berrors.KindWrongGoroutine).
			Detail("detach of context %s from goroutine %d, owner is %d", c.id, gid, c.gid).
			Build()
	}
	if c.closed.Load() {
		return berrors.New(berrors.PhaseLifecycle, berrors.KindClosed).
			Detail("context %s already detached", c.id).
			Build()
	}

	c.dropCaches()

	var err error
	if c.mode == Shared {
		_, err = c.rt.exchange(context.Background(), c.guest, c.d,
			&wire.Command{Op: wire.OpNamespaceDrop, Ctx: c.id})
	} else {
		err = c.rt.stopGuest(c.guest)
	}

	c.closeLocal()
	c.rt.detached(c)
	c.rt.log.Debug("context detached", zap.String("context", c.id), zap.Error(err))
	return err
}

// closeLocal marks the context closed without talking to the guest.
func (c *Context) closeLocal() {
	c.closed.Store(true)
	c.d.space.Close()
}

// command runs cmd in this context's namespace.
func (c *Context) command(ctx context.Context, cmd *wire.Command) (wire.Value, error) {
	if err := c.check(); err != nil {
		return wire.Value{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.Ctx = c.id
	return c.rt.exchange(withContext(ctx, c), c.guest, c.d, cmd)
}

// function resolves name through the one-slot function cache.
func (c *Context) function(ctx context.Context, name string) (int64, error) {
	if c.fn.ref != 0 && c.fn.name == name {
		return c.fn.ref, nil
	}
	ref, err := c.resolve(ctx, &wire.Command{Op: wire.OpResolve, Name: name})
	if err != nil {
		return 0, err
	}
	c.guest.releaseRef(c.fn.ref)
	c.fn = cachedFunc{name: name, ref: ref}
	return ref, nil
}

// boundMethod resolves object.method through the one-slot method cache.
func (c *Context) boundMethod(ctx context.Context, object, method string) (int64, error) {
	if c.method.ref != 0 && c.method.object == object && c.method.method == method {
		return c.method.ref, nil
	}
	ref, err := c.resolve(ctx, &wire.Command{Op: wire.OpResolveMethod, Name: object, Attr: method})
	if err != nil {
		return 0, err
	}
	c.guest.releaseRef(c.method.ref)
	c.method = cachedMethod{object: object, method: method, ref: ref}
	return ref, nil
}

func (c *Context) resolve(ctx context.Context, cmd *wire.Command) (int64, error) {
	w, err := c.command(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if w.T != wire.TagRef {
		return 0, berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
			Detail("%s %q returned %s, not a reference", cmd.Op, cmd.Name, w.T).
			Build()
	}
	return w.Handle, nil
}

// invalidate drops cached lookups that a rebinding of name could make stale.
// An empty name drops everything.
func (c *Context) invalidate(name string) {
	if name == "" || c.fn.name == name || strings.HasPrefix(c.fn.name, name+".") {
		c.guest.releaseRef(c.fn.ref)
		c.fn = cachedFunc{}
	}
	if name == "" || c.method.object == name {
		c.guest.releaseRef(c.method.ref)
		c.method = cachedMethod{}
	}
}

func (c *Context) dropCaches() { c.invalidate("") }

type contextKey struct{}

func withContext(ctx context.Context, c *Context) context.Context {
	if cur, ok := ctx.Value(contextKey{}).(*Context); ok && cur == c {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, c)
}

// ContextFrom returns the Context whose call is in flight. Go methods
// called from Python receive it through their context.Context parameter.
func ContextFrom(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}
