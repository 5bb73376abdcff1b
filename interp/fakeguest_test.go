package interp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/caffeineduck/pyhost/wire"
)

// fakeEngine stands in for the wasm interpreter. Each instance runs a Go
// serve loop that speaks the bridge protocol over the instance's stdin and
// stderr, and knows a fixed set of programs instead of Python.
type fakeEngine struct {
	mu      sync.Mutex
	runs    []string
	closed  bool
	refs    map[int64]any
	nextRef int64

	// hang keeps instances from ever reporting ready.
	hang bool
	// crash makes instances print to stderr and exit during startup.
	crash bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{refs: make(map[int64]any)}
}

func (e *fakeEngine) run(ctx context.Context, inst instance) error {
	e.mu.Lock()
	e.runs = append(e.runs, inst.name)
	hang, crash := e.hang, e.crash
	e.mu.Unlock()

	switch {
	case hang:
		<-ctx.Done()
		return ctx.Err()
	case crash:
		io.WriteString(inst.stderr, "Fatal Python error: init failed\n")
		return errors.New("exit status 1")
	}

	sc := bufio.NewScanner(inst.stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	p := &fakePython{
		eng:    e,
		in:     sc,
		out:    inst.stderr,
		spaces: make(map[string]map[string]any),
		stash:  make(map[uint64]*wire.Command),
	}
	p.frame(&wire.Frame{Kind: wire.FrameReady})
	return p.serve()
}

func (e *fakeEngine) close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) instances() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.runs...)
}

func (e *fakeEngine) live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.refs)
}

func (e *fakeEngine) addRef(v any) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextRef++
	e.refs[e.nextRef] = v
	return e.nextRef
}

func (e *fakeEngine) ref(id int64) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.refs[id]
	return v, ok
}

func (e *fakeEngine) drop(ids []int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.refs, id)
	}
}

// pyFunc is a Python callable of the fake interpreter.
type pyFunc func(p *fakePython, args []wire.Value, kw map[string]wire.Value) (any, *wire.ErrorInfo)

// pyObject is a plain Python object with attributes and methods.
type pyObject struct {
	class   string
	attrs   map[string]wire.Value
	methods map[string]pyFunc
}

// pyIter is a generator over fixed items.
type pyIter struct {
	items []wire.Value
	pos   int
}

type fakePython struct {
	eng    *fakeEngine
	in     *bufio.Scanner
	out    io.Writer
	spaces map[string]map[string]any
	paths  []string
	stack  []uint64
	stash  map[uint64]*wire.Command
	nextCB uint64
	exit   error
}

var errHostGone = errors.New("host closed stdin")

func (p *fakePython) serve() error {
	for {
		cmd, err := p.read()
		if err != nil {
			return nil
		}
		if cmd.Kind != wire.KindCommand {
			continue
		}
		if done := p.execute(cmd); done {
			return p.exit
		}
	}
}

func (p *fakePython) read() (*wire.Command, error) {
	if !p.in.Scan() {
		return nil, errHostGone
	}
	return wire.DecodeCommand(p.in.Bytes())
}

func (p *fakePython) frame(f *wire.Frame) {
	data, err := wire.EncodeFrame(f)
	if err != nil {
		panic(err)
	}
	p.out.Write(data)
}

func (p *fakePython) note(f *wire.Frame) {
	f.Kind = wire.FrameNote
	p.frame(f)
}

// execute runs one command and reports whether the interpreter should stop.
func (p *fakePython) execute(cmd *wire.Command) bool {
	p.eng.drop(cmd.Release)
	p.stack = append(p.stack, cmd.ID)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	v, exc := p.dispatch(cmd)
	if p.exit != nil {
		return true
	}
	if exc != nil {
		p.frame(&wire.Frame{Kind: wire.FrameError, ID: cmd.ID, Err: exc})
	} else {
		w := p.marshal(v)
		p.frame(&wire.Frame{Kind: wire.FrameReturn, ID: cmd.ID, Value: &w})
	}
	return cmd.Op == wire.OpShutdown
}

func (p *fakePython) dispatch(cmd *wire.Command) (any, *wire.ErrorInfo) {
	ns := p.spaces[cmd.Ctx]
	switch cmd.Op {
	case wire.OpNamespaceNew:
		p.spaces[cmd.Ctx] = map[string]any{}
		return nil, nil
	case wire.OpNamespaceMain:
		if _, ok := p.spaces["__main__"]; !ok {
			p.spaces["__main__"] = map[string]any{}
		}
		p.spaces[cmd.Ctx] = p.spaces["__main__"]
		return nil, nil
	case wire.OpNamespaceDrop:
		delete(p.spaces, cmd.Ctx)
		return nil, nil
	case wire.OpShutdown:
		return nil, nil
	case wire.OpAddPath:
		p.paths = append([]string{cmd.Name}, p.paths...)
		return nil, nil
	case wire.OpImport:
		switch cmd.Name {
		case "json", "math":
			return nil, nil
		}
		return nil, &wire.ErrorInfo{Type: "ModuleNotFoundError", Message: fmt.Sprintf("No module named '%s'", cmd.Name)}
	}

	if ns == nil {
		return nil, &wire.ErrorInfo{Type: "RuntimeError", Message: "unknown context " + cmd.Ctx}
	}

	switch cmd.Op {
	case wire.OpExec:
		prog, ok := programs[cmd.Code]
		if !ok {
			return nil, &wire.ErrorInfo{Type: "SyntaxError", Message: "invalid syntax",
				Frames: []wire.FrameInfo{{File: "<string>", Line: 1, Func: "<module>"}}}
		}
		return nil, prog(p, ns)
	case wire.OpSet:
		ns[cmd.Name] = *cmd.Value
		return nil, nil
	case wire.OpGet:
		v, ok := ns[cmd.Name]
		if !ok {
			return nil, nameError(cmd.Name)
		}
		return v, nil
	case wire.OpResolve:
		v, ok := ns[cmd.Name]
		if !ok {
			if cmd.Name == "len" {
				return pyFunc(builtinLen), nil
			}
			return nil, nameError(cmd.Name)
		}
		return forceRef{v}, nil
	case wire.OpResolveMethod:
		obj, ok := ns[cmd.Name].(*pyObject)
		if !ok {
			return nil, nameError(cmd.Name)
		}
		m, ok := obj.methods[cmd.Attr]
		if !ok {
			return nil, attrError(obj, cmd.Attr)
		}
		return m, nil
	}

	target, ok := p.eng.ref(cmd.Ref)
	if !ok {
		return nil, &wire.ErrorInfo{Type: "RuntimeError", Message: "stale reference " + strconv.FormatInt(cmd.Ref, 10)}
	}
	switch cmd.Op {
	case wire.OpCall:
		fn, ok := target.(pyFunc)
		if !ok {
			return nil, &wire.ErrorInfo{Type: "TypeError", Message: "object is not callable"}
		}
		return fn(p, cmd.Args, cmd.Kwargs)
	case wire.OpGetAttr:
		obj := target.(*pyObject)
		v, ok := obj.attrs[cmd.Attr]
		if !ok {
			return nil, attrError(obj, cmd.Attr)
		}
		return v, nil
	case wire.OpSetAttr:
		target.(*pyObject).attrs[cmd.Attr] = *cmd.Value
		return nil, nil
	case wire.OpInvoke:
		obj := target.(*pyObject)
		m, ok := obj.methods[cmd.Attr]
		if !ok {
			return nil, attrError(obj, cmd.Attr)
		}
		return m(p, cmd.Args, cmd.Kwargs)
	case wire.OpNext:
		it := target.(*pyIter)
		if it.pos >= len(it.items) {
			return nil, &wire.ErrorInfo{Type: "StopIteration", Kind: "exhausted"}
		}
		it.pos++
		return it.items[it.pos-1], nil
	case wire.OpStr:
		switch x := target.(type) {
		case *pyObject:
			return wire.Str(fmt.Sprintf("<%s object>", x.class)), nil
		case *pyIter:
			return wire.Str("<generator object>"), nil
		}
		return wire.Str("<function>"), nil
	}
	return nil, &wire.ErrorInfo{Type: "RuntimeError", Message: "unknown op " + cmd.Op}
}

// forceRef makes a resolved value travel as a reference even when it is
// plain data.
type forceRef struct{ v any }

// marshal turns a fake Python value into its wire form. Objects without a
// wire representation are exported as new references.
func (p *fakePython) marshal(v any) wire.Value {
	switch x := v.(type) {
	case nil:
		return wire.None()
	case wire.Value:
		if x.T == wire.TagRef {
			v, _ := p.eng.ref(x.Handle)
			return wire.Ref(p.eng.addRef(v), x.Kind, x.Class)
		}
		return x
	case forceRef:
		return wire.Ref(p.eng.addRef(x.v), "callable", "function")
	case pyFunc:
		return wire.Ref(p.eng.addRef(x), "callable", "function")
	case *pyIter:
		return wire.Ref(p.eng.addRef(x), "iterator", "generator")
	case *pyObject:
		return wire.Ref(p.eng.addRef(x), "object", x.class)
	}
	panic(fmt.Sprintf("fake python cannot marshal %T", v))
}

// callback asks the host to run op and waits for the reply, running any
// command the host issues meanwhile.
func (p *fakePython) callback(f *wire.Frame) (wire.Value, *wire.ErrorInfo) {
	p.nextCB++
	cb := p.nextCB
	f.Kind = wire.FrameCall
	f.ID = p.stack[len(p.stack)-1]
	f.CB = cb
	p.frame(f)

	for {
		if r, ok := p.stash[cb]; ok {
			delete(p.stash, cb)
			return reply(r)
		}
		cmd, err := p.read()
		if err != nil {
			p.exit = err
			return wire.Value{}, &wire.ErrorInfo{Type: "SystemExit"}
		}
		p.eng.drop(cmd.Release)
		switch cmd.Kind {
		case wire.KindReply:
			if cmd.CB == cb {
				return reply(cmd)
			}
			p.stash[cmd.CB] = cmd
		case wire.KindCommand:
			p.execute(cmd)
		}
	}
}

// reply turns a callback reply into a result or the exception Python would
// raise for it.
func reply(cmd *wire.Command) (wire.Value, *wire.ErrorInfo) {
	if cmd.Err == nil {
		if cmd.Value == nil {
			return wire.None(), nil
		}
		return *cmd.Value, nil
	}
	exc := &wire.ErrorInfo{Message: cmd.Err.Message}
	switch cmd.Err.Kind {
	case "attribute", "read_only":
		exc.Type = "AttributeError"
	case "no_match", "wrong_arity", "ambiguous", "no_constructor", "type_mismatch", "unrecognized_type":
		exc.Type = "TypeError"
	case "exhausted":
		exc.Type = "StopIteration"
	case "overflow":
		exc.Type = "OverflowError"
	case "key":
		exc.Type = "KeyError"
	case "index":
		exc.Type = "IndexError"
	case "not_found":
		exc.Type = "LookupError"
	case "invalid_data":
		exc.Type = "ValueError"
	case "":
		exc.Type = "HostError"
		if cmd.Err.Value != nil {
			exc.Handle = cmd.Err.Value.Handle
		}
	default:
		exc.Type = "RuntimeError"
	}
	return wire.Value{}, exc
}

func nameError(name string) *wire.ErrorInfo {
	return &wire.ErrorInfo{Type: "NameError", Kind: "not_found", Message: fmt.Sprintf("name '%s' is not defined", name)}
}

func attrError(obj *pyObject, name string) *wire.ErrorInfo {
	return &wire.ErrorInfo{Type: "AttributeError", Message: fmt.Sprintf("'%s' object has no attribute '%s'", obj.class, name)}
}

func intArg(w wire.Value) int64 {
	n, _ := strconv.ParseInt(w.S, 10, 64)
	return n
}

func builtinLen(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
	switch args[0].T {
	case wire.TagStr:
		return wire.Int(int64(len(args[0].S))), nil
	case wire.TagList, wire.TagTuple:
		return wire.Int(int64(len(args[0].Items))), nil
	case wire.TagDict:
		return wire.Int(int64(len(args[0].Entries))), nil
	case wire.TagProxy:
		return p.callback(&wire.Frame{Op: wire.CallLen, Handle: args[0].Handle})
	}
	return nil, &wire.ErrorInfo{Type: "TypeError", Message: "object has no len()"}
}

func define(name string, f pyFunc) func(*fakePython, map[string]any) *wire.ErrorInfo {
	return func(_ *fakePython, ns map[string]any) *wire.ErrorInfo {
		ns[name] = f
		return nil
	}
}

type program func(p *fakePython, ns map[string]any) *wire.ErrorInfo

// programs maps source text to what running it does. It is filled in init
// because the programs call back into the dispatcher that reads it.
var programs map[string]program

func init() {
	programs = map[string]program{
		"x = 42": func(_ *fakePython, ns map[string]any) *wire.ErrorInfo {
			ns["x"] = wire.Int(42)
			return nil
		},

		"def add(a, b): return a + b": define("add", func(_ *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			if len(args) != 2 {
				return nil, &wire.ErrorInfo{Type: "TypeError", Message: fmt.Sprintf("add() takes 2 positional arguments but %d were given", len(args))}
			}
			if args[0].T == wire.TagStr {
				return wire.Str(args[0].S + args[1].S), nil
			}
			return wire.Int(intArg(args[0]) + intArg(args[1])), nil
		}),

		"def sub(a, b=0): return a - b": define("sub", func(_ *fakePython, args []wire.Value, kw map[string]wire.Value) (any, *wire.ErrorInfo) {
			a := intArg(args[0])
			b := int64(0)
			if len(args) > 1 {
				b = intArg(args[1])
			}
			if w, ok := kw["b"]; ok {
				b = intArg(w)
			}
			return wire.Int(a - b), nil
		}),

		"def echo(v): return v": define("echo", func(_ *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return args[0], nil
		}),

		"def build_map(): return {'a': 1, 'b': 2}": define("build_map", func(*fakePython, []wire.Value, map[string]wire.Value) (any, *wire.ErrorInfo) {
			return wire.Value{T: wire.TagDict, Entries: []wire.Entry{
				{K: wire.Str("a"), V: wire.Int(1)},
				{K: wire.Str("b"), V: wire.Int(2)},
			}}, nil
		}),

		"def f(): raise ValueError('boom')": define("f", func(*fakePython, []wire.Value, map[string]wire.Value) (any, *wire.ErrorInfo) {
			return nil, &wire.ErrorInfo{Type: "ValueError", Message: "boom",
				Frames: []wire.FrameInfo{{File: "<string>", Line: 1, Func: "f"}}}
		}),

		"def gen(): yield from [1, 2, 3]": define("gen", func(*fakePython, []wire.Value, map[string]wire.Value) (any, *wire.ErrorInfo) {
			return &pyIter{items: []wire.Value{wire.Int(1), wire.Int(2), wire.Int(3)}}, nil
		}),

		"def make(): return object()": define("make", func(*fakePython, []wire.Value, map[string]wire.Value) (any, *wire.ErrorInfo) {
			return &pyObject{class: "object", attrs: map[string]wire.Value{}}, nil
		}),

		"def use(calc): return calc.Add(2, 3)": define("use", func(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return p.callback(&wire.Frame{Op: wire.CallInvoke, Handle: args[0].Handle, Name: "Add",
				Args: []wire.Value{wire.Int(2), wire.Int(3)}})
		}),

		"def twice(calc, n): return calc.Twice(n)": define("twice", func(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return p.callback(&wire.Frame{Op: wire.CallInvoke, Handle: args[0].Handle, Name: "Twice", Args: args[1:]})
		}),

		"def fail(calc): calc.Fail()": define("fail", func(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			_, exc := p.callback(&wire.Frame{Op: wire.CallInvoke, Handle: args[0].Handle, Name: "Fail"})
			if exc != nil {
				exc.Frames = []wire.FrameInfo{{File: "<string>", Line: 1, Func: "fail"}}
			}
			return nil, exc
		}),

		"def missing(calc): return calc.nope": define("missing", func(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return p.callback(&wire.Frame{Op: wire.CallGetAttr, Handle: args[0].Handle, Name: "nope"})
		}),

		"def double(x): return pyhost.call('double', x)": define("double", func(p *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return p.callback(&wire.Frame{Op: wire.CallHostFunc, Name: "double", Args: args})
		}),

		"def nope(): return pyhost.call('nope')": define("nope", func(p *fakePython, _ []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			return p.callback(&wire.Frame{Op: wire.CallHostFunc, Name: "nope"})
		}),

		"def new_calc(): return pyhost.find_host_class('Calc')(10)": define("new_calc", func(p *fakePython, _ []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
			cls, exc := p.callback(&wire.Frame{Op: wire.CallFindClass, Name: "Calc"})
			if exc != nil {
				return nil, exc
			}
			return p.callback(&wire.Frame{Op: wire.CallConstruct, Handle: cls.Handle, Args: []wire.Value{wire.Int(10)}})
		}),

		"counter = Counter()": func(_ *fakePython, ns map[string]any) *wire.ErrorInfo {
			c := &pyObject{class: "Counter", attrs: map[string]wire.Value{"n": wire.Int(0)}}
			c.methods = map[string]pyFunc{
				"incr": func(_ *fakePython, args []wire.Value, _ map[string]wire.Value) (any, *wire.ErrorInfo) {
					step := int64(1)
					if len(args) > 0 {
						step = intArg(args[0])
					}
					n := intArg(c.attrs["n"]) + step
					c.attrs["n"] = wire.Int(n)
					return wire.Int(n), nil
				},
			}
			ns["counter"] = c
			return nil
		},

		"print('hello')": func(p *fakePython, _ map[string]any) *wire.ErrorInfo {
			p.note(&wire.Frame{Op: wire.NoteWrite, Stream: "stdout", Text: "hello"})
			p.note(&wire.Frame{Op: wire.NoteWrite, Stream: "stdout", Text: "\n"})
			return nil
		},

		"logging.getLogger('app').warning('careful')": func(p *fakePython, _ map[string]any) *wire.ErrorInfo {
			p.note(&wire.Frame{Op: wire.NoteLog, Level: "WARNING", Logger: "app", Text: "careful"})
			return nil
		},

		"raise SystemExit(3)": func(p *fakePython, _ map[string]any) *wire.ErrorInfo {
			p.exit = errors.New("exit status 3")
			return nil
		},
	}
}
