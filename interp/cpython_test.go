package interp

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/pyerr"
)

// cpythonEngine runs the bridge on a local CPython, one process per
// instance, so the guest side of the protocol is exercised without the
// wasm interpreter.
type cpythonEngine struct {
	python string
	dir    string
}

func newCPythonEngine(t *testing.T) *cpythonEngine {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not found")
	}
	dir := t.TempDir()
	if err := os.CopyFS(dir, python.Bridge()); err != nil {
		t.Fatalf("copy bridge: %v", err)
	}
	return &cpythonEngine{python: path, dir: dir}
}

func (e *cpythonEngine) run(ctx context.Context, inst instance) error {
	cmd := exec.CommandContext(ctx, e.python, "-c", "__import__('_pyhost').serve()")
	cmd.Env = append(os.Environ(), "PYTHONPATH="+e.dir, "PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1")
	cmd.Stdin = inst.stdin
	cmd.Stdout = inst.stdout
	cmd.Stderr = inst.stderr
	cmd.WaitDelay = time.Second
	return cmd.Run()
}

func (e *cpythonEngine) close(context.Context) error { return nil }

func cpythonRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	base := []Option{
		withEngine(newCPythonEngine(t)),
		WithLogger(zaptest.NewLogger(t)),
		WithStartTimeout(30 * time.Second),
		WithClasses(proxy.NewClass[Calc]("Calc").Constructor(NewCalc)),
	}
	rt := New(nil, append(base, opts...)...)
	if err := rt.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { rt.Finalize(context.Background()) })
	return rt
}

func TestCPythonValues(t *testing.T) {
	rt := cpythonRuntime(t)
	ctx := context.Background()
	c := attach(t, rt, Shared)
	defer c.Detach()

	execAll(t, c,
		"import datetime\nx = 42",
		"def build_map(): return {'a': 1, 'b': 2}",
		"def echo(v): return v",
		"def when(): return datetime.date(2024, 2, 29)",
	)

	n, err := GetAs[int](ctx, c, "x")
	if err != nil || n != 42 {
		t.Errorf("x = %d, %v", n, err)
	}

	m, err := CallAs[map[string]int](ctx, c, "build_map")
	if err != nil || !reflect.DeepEqual(m, map[string]int{"a": 1, "b": 2}) {
		t.Errorf("build_map = %v, %v", m, err)
	}

	values := []struct {
		name string
		in   any
		want any
	}{
		{"string", "héllo", "héllo"},
		{"none", nil, nil},
		{"bytes", []byte{0, 1, 255}, []byte{0, 1, 255}},
		{"float", 2.5, 2.5},
		{"list", []int{1, 2}, []any{int64(1), int64(2)}},
		{"map", map[string]bool{"ok": true}, map[string]any{"ok": true}},
	}
	for _, tt := range values {
		got, err := c.Call(ctx, "echo", tt.in)
		if err != nil || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: echo = %#v, %v, want %#v", tt.name, got, err, tt.want)
		}
	}

	d, err := CallAs[hosttype.Date](ctx, c, "when")
	if err != nil || d != (hosttype.Date{Year: 2024, Month: 2, Day: 29}) {
		t.Errorf("when = %v, %v", d, err)
	}

	if _, err := CallAs[int8](ctx, c, "echo", 300); err == nil {
		t.Error("300 into int8 should fail")
	} else if kind, _ := berrors.KindOf(err); kind != berrors.KindOverflow {
		t.Errorf("300 into int8 = %v", err)
	}

	_, err = c.Value(ctx, "nope")
	wantKind(t, err, berrors.KindNotFound)
}

func TestCPythonException(t *testing.T) {
	rt := cpythonRuntime(t)
	ctx := context.Background()
	c := attach(t, rt, Shared)
	defer c.Detach()

	execAll(t, c, "def f(): raise ValueError('boom')")
	_, err := c.Call(ctx, "f")
	var exc *pyerr.Exception
	if !errors.As(err, &exc) || err.Error() != "ValueError: boom" {
		t.Fatalf("err = %v", err)
	}
	if frames := exc.GuestFrames(); len(frames) != 1 || frames[0].Function != "f" {
		t.Errorf("frames = %v", frames)
	}

	err = c.Exec(ctx, "def broken(:")
	if !errors.As(err, &exc) || exc.Type != "SyntaxError" {
		t.Errorf("syntax error = %v", err)
	}
}

func TestCPythonIterator(t *testing.T) {
	rt := cpythonRuntime(t)
	ctx := context.Background()
	c := attach(t, rt, Shared)
	defer c.Detach()

	execAll(t, c, "def gen():\n    yield 1\n    yield 2\n    yield 3")
	it, err := CallAs[*PyIterator](ctx, c, "gen")
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var got []any
	for v, err := range it.All(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	if !reflect.DeepEqual(got, []any{int64(1), int64(2), int64(3)}) {
		t.Errorf("items = %v", got)
	}
	if _, err := it.Next(); !errors.Is(err, berrors.ErrNoMoreElements) {
		t.Errorf("Next = %v", err)
	}
}

func TestCPythonCallbacks(t *testing.T) {
	rt := cpythonRuntime(t, WithHostFunc("double", func(_ context.Context, args []any) (any, error) {
		return args[0].(int64) * 2, nil
	}))
	ctx := context.Background()
	c := attach(t, rt, Shared)
	defer c.Detach()

	execAll(t, c,
		"def add(a, b): return a + b",
		"def use(calc): return calc.Add(2, 3)",
		"def twice(calc, n): return calc.Twice(n)",
		"def missing(calc): return calc.nope",
		"def fail(calc): calc.Fail()",
		"def new_calc(): return pyhost.find_host_class('Calc')(10)",
		"def double(x): return pyhost.call('double', x)",
		"def nope(): return pyhost.call('nope')",
	)
	calc := &Calc{Base: 100}

	n, err := CallAs[int](ctx, c, "use", calc)
	if err != nil || n != 105 {
		t.Errorf("use = %d, %v", n, err)
	}
	n, err = CallAs[int](ctx, c, "twice", calc, 21)
	if err != nil || n != 42 {
		t.Errorf("twice = %d, %v", n, err)
	}
	n, err = CallAs[int](ctx, c, "double", 21)
	if err != nil || n != 42 {
		t.Errorf("double = %d, %v", n, err)
	}

	made, err := CallAs[*Calc](ctx, c, "new_calc")
	if err != nil || made == nil || made.Base != 10 {
		t.Errorf("new_calc = %+v, %v", made, err)
	}

	var exc *pyerr.Exception
	_, err = c.Call(ctx, "missing", calc)
	if !errors.As(err, &exc) || exc.Type != "AttributeError" {
		t.Errorf("missing = %v", err)
	}
	_, err = c.Call(ctx, "nope")
	if !errors.As(err, &exc) || exc.Type != "LookupError" {
		t.Errorf("unknown host function = %v", err)
	}

	_, err = c.Call(ctx, "fail", calc)
	if !errors.Is(err, errQuota) {
		t.Fatalf("fail = %v, want it to wrap errQuota", err)
	}
	if !errors.As(err, &exc) || exc.Type != "HostError" || exc.Message != "save: quota exceeded" {
		t.Errorf("exception = %+v", exc)
	}
	if frames := exc.GuestFrames(); len(frames) != 1 || frames[0].Function != "fail" {
		t.Errorf("frames = %v", frames)
	}
}

func TestCPythonIsolated(t *testing.T) {
	rt := cpythonRuntime(t)
	ctx := context.Background()
	if err := rt.ImportModule(ctx, "json"); err != nil {
		t.Fatalf("ImportModule: %v", err)
	}
	if err := rt.ImportModule(ctx, "no_such_module"); err == nil {
		t.Error("importing a missing module should fail")
	}

	shared := attach(t, rt, Shared)
	execAll(t, shared, "secret = 1")
	if err := shared.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	c := attach(t, rt, Isolated)
	defer c.Detach()
	got, err := CallAs[string](ctx, c, "json.dumps", []int{1, 2})
	if err != nil || got != "[1, 2]" {
		t.Errorf("json.dumps = %q, %v", got, err)
	}
	_, err = c.Value(ctx, "secret")
	wantKind(t, err, berrors.KindNotFound)
}

func TestCPythonStreamsAndLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var out bytes.Buffer
	rt := cpythonRuntime(t, WithStdout(&out), WithLogger(zap.New(core)))
	c := attach(t, rt, Shared)
	defer c.Detach()

	execAll(t, c, "print('hello')", "import logging\nlogging.getLogger('app').warning('careful')")

	if !strings.Contains(out.String(), "hello\n") {
		t.Errorf("stdout = %q", out.String())
	}
	entries := logs.FilterMessage("careful").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %v", logs.All())
	}
	if e := entries[0]; e.Level != zapcore.WarnLevel || e.ContextMap()["logger"] != "app" {
		t.Errorf("entry = %+v", e)
	}
}
