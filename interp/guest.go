package interp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"go.uber.org/zap"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/wire"
)

// tailSize bounds the raw stderr kept for startup diagnostics.
const tailSize = 4096

// guest is one running interpreter instance and the host end of its
// channel: commands go to its stdin, frames come back on its stderr.
type guest struct {
	name    string
	log     *zap.Logger
	streams *hostfunc.Streams
	logs    *hostfunc.LogBridge
	token   *token

	// handles holds the Go values this interpreter references.
	handles *proxy.Handles
	// system serves callbacks of commands issued by the runtime itself.
	system *dispatcher

	stdin   *io.PipeWriter
	stdinR  *io.PipeReader
	writeMu sync.Mutex

	splitMu sync.Mutex
	split   wire.Splitter

	mu       sync.Mutex
	waiters  map[uint64]chan *wire.Frame
	releases []int64
	tail     []byte

	// stack lists the commands running on the guest, innermost last. It is
	// only touched by the holder of the execution token.
	stack []uint64

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	exitErr   error
	cancel    context.CancelFunc
}

func newGuest(name string, r *Runtime) *guest {
	g := &guest{
		name:    name,
		log:     r.log.With(zap.String("guest", name)),
		streams: r.streams,
		logs:    r.logs,
		token:   r.token,
		handles: proxy.NewHandles(),
		waiters: make(map[uint64]chan *wire.Frame),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	g.stdinR, g.stdin = io.Pipe()
	g.system = &dispatcher{
		space: proxy.NewSpace(g.handles, r.registry, nil),
		funcs: r.cfg.funcs,
		guest: g,
	}
	return g
}

// Write receives the guest's stderr. It never blocks on the host side:
// frames are handed to buffered waiter channels and everything else is
// logged.
func (g *guest) Write(p []byte) (int, error) {
	g.splitMu.Lock()
	frames, plain := g.split.Feed(p)
	g.splitMu.Unlock()

	if len(plain) > 0 {
		g.plain(plain)
	}
	for _, payload := range frames {
		f, err := wire.DecodeFrame(payload)
		if err != nil {
			g.log.Warn("malformed frame", zap.Error(err), zap.ByteString("payload", payload))
			continue
		}
		g.route(f)
	}
	return len(p), nil
}

func (g *guest) plain(p []byte) {
	g.mu.Lock()
	g.tail = append(g.tail, p...)
	if len(g.tail) > tailSize {
		g.tail = slices.Clone(g.tail[len(g.tail)-tailSize:])
	}
	g.mu.Unlock()
	g.log.Warn("guest stderr", zap.ByteString("text", bytes.TrimRight(p, "\n")))
}

func (g *guest) route(f *wire.Frame) {
	if len(f.Release) > 0 {
		g.handles.Release(f.Release...)
	}

	switch f.Kind {
	case wire.FrameReady:
		g.readyOnce.Do(func() { close(g.ready) })
		return
	case wire.FrameNote:
		g.note(f)
		return
	}

	g.mu.Lock()
	ch, ok := g.waiters[f.ID]
	g.mu.Unlock()
	if !ok {
		g.log.Warn("frame for unknown command", zap.Uint64("id", f.ID), zap.String("kind", f.Kind))
		return
	}
	select {
	case ch <- f:
	default:
		g.log.Error("frame dropped", zap.Uint64("id", f.ID), zap.String("kind", f.Kind))
	}
}

func (g *guest) note(f *wire.Frame) {
	switch f.Op {
	case wire.NoteWrite:
		if err := g.streams.Write(f.Stream, f.Text); err != nil {
			g.log.Warn("stream write failed", zap.String("stream", f.Stream), zap.Error(err))
		}
	case wire.NoteLog:
		g.logs.Emit(f.Level, f.Logger, f.Text)
	default:
		g.log.Debug("unknown note", zap.String("op", f.Op))
	}
}

// await registers the channel that receives the frames of command id.
func (g *guest) await(id uint64) chan *wire.Frame {
	ch := make(chan *wire.Frame, 1)
	g.mu.Lock()
	g.waiters[id] = ch
	g.mu.Unlock()
	return ch
}

func (g *guest) forget(id uint64) {
	g.mu.Lock()
	delete(g.waiters, id)
	g.mu.Unlock()
}

// next waits for the next frame of a command. A frame that raced with the
// guest exiting is still delivered.
func (g *guest) next(ch chan *wire.Frame) (*wire.Frame, error) {
	select {
	case f := <-ch:
		return f, nil
	case <-g.done:
		select {
		case f := <-ch:
			return f, nil
		default:
		}
		return nil, g.deadError()
	}
}

func (g *guest) send(cmd *wire.Command) error {
	data, err := wire.EncodeCommand(cmd)
	if err != nil {
		return berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
			Detail("encode %s command", cmd.Op).
			Cause(err).
			Build()
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if _, err := g.stdin.Write(data); err != nil {
		return g.deadError()
	}
	return nil
}

func (g *guest) push(id uint64) { g.stack = append(g.stack, id) }

func (g *guest) pop(id uint64) {
	if i := slices.Index(g.stack, id); i >= 0 {
		g.stack = slices.Delete(g.stack, i, i+1)
	}
	g.token.changed()
}

func (g *guest) top() uint64 {
	if len(g.stack) == 0 {
		return 0
	}
	return g.stack[len(g.stack)-1]
}

// releaseRef queues a guest reference to be dropped with the next command.
func (g *guest) releaseRef(ref int64) {
	if ref == 0 || g.exited() {
		return
	}
	g.mu.Lock()
	g.releases = append(g.releases, ref)
	g.mu.Unlock()
}

func (g *guest) takeReleases() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	rel := g.releases
	g.releases = nil
	return rel
}

// hostError resolves the Go error behind a host handle raised in Python.
func (g *guest) hostError(h int64) (error, bool) {
	obj, ok := g.handles.Get(h)
	if !ok || !obj.Value.IsValid() || !obj.Value.CanInterface() {
		return nil, false
	}
	err, ok := obj.Value.Interface().(error)
	return err, ok
}

func (g *guest) markExited(err error) {
	g.doneOnce.Do(func() {
		g.mu.Lock()
		g.exitErr = err
		g.mu.Unlock()
		close(g.done)
		g.stdinR.Close()
		g.handles.Clear()
		g.token.changed()
	})
}

func (g *guest) exited() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

func (g *guest) deadError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := berrors.New(berrors.PhaseGuest, berrors.KindClosed).
		Detail("interpreter %s is not running", g.name)
	if g.exitErr != nil {
		b = b.Cause(g.exitErr)
	}
	return b.Build()
}

func (g *guest) startupError(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := berrors.New(berrors.PhaseLifecycle, berrors.KindStartup).
		Detail("interpreter %s %s", g.name, reason)
	if len(g.tail) > 0 {
		b = b.Value(string(g.tail))
	}
	if g.exitErr != nil {
		b = b.Cause(g.exitErr)
	}
	return b.Build()
}

// kill stops the instance without waiting for the serve loop.
func (g *guest) kill() {
	g.stdin.Close()
	if g.cancel != nil {
		g.cancel()
	}
}

// streamWriter adapts a named host stream to io.Writer for the guest's
// raw file descriptors.
type streamWriter struct {
	streams *hostfunc.Streams
	name    string
}

func (w streamWriter) Write(p []byte) (int, error) {
	if err := w.streams.Write(w.name, string(p)); err != nil {
		return 0, fmt.Errorf("write %s: %w", w.name, err)
	}
	return len(p), nil
}
