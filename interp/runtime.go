package interp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/pyerr"
	"github.com/caffeineduck/pyhost/wire"
)

type state int

const (
	stateNew state = iota
	stateReady
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateFinalized:
		return "finalized"
	}
	return "uninitialized"
}

// Runtime owns the primary interpreter, the execution token and every
// attached Context.
type Runtime struct {
	lang    Language
	cfg     config
	log     *zap.Logger
	token   *token
	streams *hostfunc.Streams
	logs    *hostfunc.LogBridge
	ids     atomic.Uint64

	mu          sync.Mutex
	state       state
	engine      engine
	registry    *proxy.Registry
	primary     *guest
	isolated    map[*guest]struct{}
	contexts    map[string]*Context
	byGoroutine map[int64]*Context
	paths       []string
	imports     []string
	wg          sync.WaitGroup
}

// New creates a Runtime for lang. Nothing is started until Initialize.
func New(lang Language, opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = Logger()
	}
	return &Runtime{
		lang:        lang,
		cfg:         cfg,
		log:         log,
		token:       newToken(),
		streams:     hostfunc.NewStreams(cfg.stdout, cfg.stderr),
		logs:        hostfunc.NewLogBridge(log),
		isolated:    make(map[*guest]struct{}),
		contexts:    make(map[string]*Context),
		byGoroutine: make(map[int64]*Context),
	}
}

// Initialize starts the primary interpreter. It is idempotent; after
// Finalize it fails with errors.ErrFinalized.
func (r *Runtime) Initialize(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateReady:
		return nil
	case stateFinalized:
		return berrors.ErrFinalized
	}

	hosttype.Init()
	defer func() {
		if err != nil {
			hosttype.Release()
		}
	}()

	r.registry = proxy.NewRegistry()
	if err := r.registry.Register(r.cfg.classes...); err != nil {
		return err
	}

	deadlock.Opts.DeadlockTimeout = r.cfg.deadlockTimeout
	deadlock.Opts.LogBuf = zap.NewStdLog(r.log.Named("deadlock")).Writer()
	deadlock.Opts.OnPotentialDeadlock = func() {
		r.log.Error("potential deadlock on the execution token")
	}

	start := time.Now()
	r.engine = r.cfg.engine
	if r.engine == nil {
		e, err := newWazeroEngine(ctx, r.lang, &r.cfg)
		if err != nil {
			return berrors.New(berrors.PhaseLifecycle, berrors.KindStartup).
				Detail("create interpreter engine").
				Cause(err).
				Build()
		}
		r.engine = e
	}

	g, err := r.startGuest("primary")
	if err != nil {
		r.engine.close(ctx)
		r.engine = nil
		return err
	}
	r.primary = g
	r.state = stateReady
	r.log.Debug("runtime initialized", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// startGuest launches an interpreter instance and waits for its serve loop.
func (r *Runtime) startGuest(name string) (*guest, error) {
	g := newGuest(name, r)
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		err := r.engine.run(runCtx, instance{
			name:   name,
			stdin:  g.stdinR,
			stdout: streamWriter{r.streams, hostfunc.Stdout},
			stderr: g,
		})
		g.markExited(err)
		g.log.Debug("interpreter exited", zap.Error(err))
	}()

	timer := time.NewTimer(r.cfg.startTimeout)
	defer timer.Stop()
	select {
	case <-g.ready:
	case <-g.done:
		return nil, g.startupError("exited during startup")
	case <-timer.C:
		g.kill()
		return nil, g.startupError(fmt.Sprintf("did not become ready within %s", r.cfg.startTimeout))
	}
	return g, nil
}

// stopGuest asks a guest to shut down and waits for it to exit, killing it
// after the stop timeout.
func (r *Runtime) stopGuest(g *guest) error {
	if g.exited() {
		return nil
	}
	_, err := r.exchange(context.Background(), g, g.system, &wire.Command{Op: wire.OpShutdown})
	g.stdin.Close()

	timer := time.NewTimer(r.cfg.stopTimeout)
	defer timer.Stop()
	select {
	case <-g.done:
	case <-timer.C:
		g.kill()
		<-g.done
	}
	if kind, ok := berrors.KindOf(err); ok && kind == berrors.KindClosed {
		err = nil
	}
	return err
}

// AddSearchPath puts a guest directory at the front of sys.path in every
// interpreter, including isolated ones started later.
func (r *Runtime) AddSearchPath(ctx context.Context, path string) error {
	guests, err := r.guests()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()

	for _, g := range guests {
		if err := r.addPath(ctx, g, path); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) addPath(ctx context.Context, g *guest, path string) error {
	_, err := r.exchange(ctx, g, g.system, &wire.Command{Op: wire.OpAddPath, Name: path})
	return err
}

// ImportModule imports a module in every interpreter so that later
// contexts find it loaded.
func (r *Runtime) ImportModule(ctx context.Context, name string) error {
	guests, err := r.guests()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.imports = append(r.imports, name)
	r.mu.Unlock()

	for _, g := range guests {
		if err := r.importModule(ctx, g, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) importModule(ctx context.Context, g *guest, name string) error {
	_, err := r.exchange(ctx, g, g.system, &wire.Command{Op: wire.OpImport, Name: name})
	if err != nil {
		return berrors.New(berrors.PhaseLookup, berrors.KindNotFound).
			Detail("Failed to import module `%s`", name).
			Cause(err).
			Build()
	}
	return nil
}

func (r *Runtime) guests() ([]*guest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return nil, err
	}
	out := []*guest{r.primary}
	for g := range r.isolated {
		out = append(out, g)
	}
	return out, nil
}

func (r *Runtime) usable() error {
	switch r.state {
	case stateNew:
		return berrors.ErrNotInitialized
	case stateFinalized:
		return berrors.ErrFinalized
	}
	return nil
}

// Attach creates a Context bound to the calling goroutine.
func (r *Runtime) Attach(ctx context.Context, mode Mode) (*Context, error) {
	if mode != Shared && mode != Isolated {
		return nil, berrors.New(berrors.PhaseLifecycle, berrors.KindInvalidMode).
			Value(int(mode)).
			Detail("unknown interpreter mode %d", int(mode)).
			Build()
	}

	gid := goid.Get()
	r.mu.Lock()
	if err := r.usable(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if c, ok := r.byGoroutine[gid]; ok {
		r.mu.Unlock()
		return nil, berrors.New(berrors.PhaseLifecycle, berrors.KindAlreadyAttached).
			Detail("goroutine %d already has context %s", gid, c.id).
			Build()
	}
	g := r.primary
	registry := r.registry
	r.mu.Unlock()

	op := wire.OpNamespaceNew
	if mode == Isolated {
		var err error
		if g, err = r.startGuest("isolated-" + strconv.FormatUint(r.ids.Add(1), 10)); err != nil {
			return nil, err
		}
		if err := r.prime(ctx, g); err != nil {
			r.stopGuest(g)
			return nil, err
		}
		op = wire.OpNamespaceMain
	}

	c := newContext(r, g, mode, gid, registry)
	if _, err := r.exchange(ctx, g, c.d, &wire.Command{Op: op, Ctx: c.id}); err != nil {
		if mode == Isolated {
			r.stopGuest(g)
		}
		return nil, err
	}

	r.mu.Lock()
	if err := r.usable(); err != nil {
		r.mu.Unlock()
		c.closeLocal()
		if mode == Isolated {
			r.stopGuest(g)
		}
		return nil, err
	}
	r.contexts[c.id] = c
	r.byGoroutine[gid] = c
	if mode == Isolated {
		r.isolated[g] = struct{}{}
	}
	r.mu.Unlock()

	r.log.Debug("context attached",
		zap.String("context", c.id),
		zap.Stringer("mode", mode),
		zap.Int64("goroutine", gid))
	return c, nil
}

// prime replays search paths and imports on a new isolated interpreter.
func (r *Runtime) prime(ctx context.Context, g *guest) error {
	r.mu.Lock()
	paths, imports := r.paths, r.imports
	r.mu.Unlock()

	for _, p := range paths {
		if err := r.addPath(ctx, g, p); err != nil {
			return err
		}
	}
	for _, name := range imports {
		if err := r.importModule(ctx, g, name); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the context attached to the calling goroutine.
func (r *Runtime) Current() (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byGoroutine[goid.Get()]
	return c, ok
}

func (r *Runtime) detached(c *Context) {
	r.mu.Lock()
	delete(r.contexts, c.id)
	if r.byGoroutine[c.gid] == c {
		delete(r.byGoroutine, c.gid)
	}
	if c.mode == Isolated {
		delete(r.isolated, c.guest)
	}
	r.mu.Unlock()
}

// Finalize shuts down every interpreter and releases the type registry.
// Contexts still attached are closed and reported as an error. A second
// call is a no-op.
func (r *Runtime) Finalize(ctx context.Context) error {
	r.mu.Lock()
	prev := r.state
	r.state = stateFinalized
	if prev != stateReady {
		r.mu.Unlock()
		return nil
	}
	attached := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		attached = append(attached, c)
	}
	clear(r.contexts)
	clear(r.byGoroutine)
	isolated := make([]*guest, 0, len(r.isolated))
	for g := range r.isolated {
		isolated = append(isolated, g)
	}
	clear(r.isolated)
	primary := r.primary
	r.mu.Unlock()

	var err error
	if len(attached) > 0 {
		err = berrors.New(berrors.PhaseLifecycle, berrors.KindStillAttached).
			Value(len(attached)).
			Detail("%d contexts still attached at finalize", len(attached)).
			Build()
		for _, c := range attached {
			c.closeLocal()
		}
	}

	for _, g := range isolated {
		err = multierr.Append(err, r.stopGuest(g))
	}
	err = multierr.Append(err, r.stopGuest(primary))

	r.token.acquire()
	err = multierr.Append(err, r.engine.close(ctx))
	r.token.release()
	r.wg.Wait()

	hosttype.Release()
	r.log.Debug("runtime finalized", zap.Int("forced", len(attached)))
	return err
}

// exchange runs one command on g. Callbacks the guest makes meanwhile are
// served by d on the calling goroutine, with the token released.
func (r *Runtime) exchange(ctx context.Context, g *guest, d *dispatcher, cmd *wire.Command) (wire.Value, error) {
	r.token.acquire()
	if g.exited() {
		r.token.release()
		return wire.Value{}, g.deadError()
	}

	id := r.ids.Add(1)
	cmd.Kind = wire.KindCommand
	cmd.ID = id
	cmd.Release = g.takeReleases()

	frames := g.await(id)
	g.push(id)
	finish := func() {
		g.forget(id)
		g.pop(id)
		r.token.release()
	}

	if err := g.send(cmd); err != nil {
		finish()
		return wire.Value{}, err
	}

	for {
		f, err := g.next(frames)
		if err != nil {
			finish()
			return wire.Value{}, err
		}

		switch f.Kind {
		case wire.FrameReturn:
			finish()
			if f.Value == nil {
				return wire.None(), nil
			}
			return *f.Value, nil

		case wire.FrameError:
			finish()
			return wire.Value{}, pyerr.FromWire(f.Err, g.hostError, 0)

		case wire.FrameCall:
			r.token.release()
			reply := d.serve(ctx, f)
			r.token.acquireTop(g, id)
			reply.Release = g.takeReleases()
			if err := g.send(reply); err != nil {
				finish()
				return wire.Value{}, err
			}

		default:
			finish()
			return wire.Value{}, berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
				Detail("unexpected %q frame for command %d", f.Kind, id).
				Build()
		}
	}
}
