// Package bench measures the cost of crossing the bridge.
//
// Converter, wire and dispatch benchmarks run anywhere. The end-to-end
// call benchmarks need the interpreter module:
//
//	PYHOST_PYTHON_WASM=~/.cache/pyhost/rustpython.wasm go test -bench=. ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/caffeineduck/pyhost/convert"
	"github.com/caffeineduck/pyhost/interp"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/wire"
)

type Point struct {
	X, Y  float64
	Label string
}

type Calc struct{ Base int }

func (c *Calc) Add(a, b int) int { return c.Base + a + b }

func (c *Calc) Scale(p Point, f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f, Label: p.Label}
}

func (c *Calc) Sum(xs ...int) int {
	n := c.Base
	for _, x := range xs {
		n += x
	}
	return n
}

func (c *Calc) Pick(int64) string        { return "int" }
func (c *Calc) PickFloat(float64) string { return "float" }

func TestMain(m *testing.M) {
	code := m.Run()
	interp.CloseSharedTestRuntime()
	os.Exit(code)
}

// --- Converter ---

func BenchmarkToGuest_Int(b *testing.B) {
	c := convert.New(nil, nil)
	for b.Loop() {
		c.ToGuest(42)
	}
}

func BenchmarkToGuest_Map(b *testing.B) {
	c := convert.New(nil, nil)
	m := map[string]any{"a": 1, "b": "two", "c": []int{1, 2, 3}, "d": 4.5}
	for b.Loop() {
		c.ToGuest(m)
	}
}

func BenchmarkToHost_Struct(b *testing.B) {
	c := convert.New(nil, nil)
	w, err := c.ToGuest(map[string]any{"X": 1.5, "Y": 2.5, "Label": "p"})
	if err != nil {
		b.Fatal(err)
	}
	t := reflect.TypeFor[Point]()
	for b.Loop() {
		if _, err := c.ToHost(w, t); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScore(b *testing.B) {
	c := convert.New(nil, nil)
	args := []wire.Value{wire.Int(1), wire.Float(2.5), wire.Str("x")}
	types := []reflect.Type{reflect.TypeFor[int32](), reflect.TypeFor[float64](), reflect.TypeFor[string]()}
	scores := make([]int, len(args))
	for b.Loop() {
		for i, a := range args {
			scores[i] = c.Score(a, types[i])
		}
		convert.Aggregate(scores)
	}
}

// --- Wire ---

func BenchmarkEncodeCommand(b *testing.B) {
	v := wire.Int(7)
	cmd := &wire.Command{
		Kind:  wire.KindCommand,
		ID:    12,
		Op:    wire.OpCall,
		Ctx:   "3f0f5a8c-6d0e-4d55-9c38-d2b8f0a5a3c1",
		Ref:   9,
		Args:  []wire.Value{wire.Int(1), wire.Str("two"), wire.List(wire.Float(3), wire.None())},
		Value: &v,
	}
	for b.Loop() {
		if _, err := wire.EncodeCommand(cmd); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSplitFrames(b *testing.B) {
	v := wire.Int(3)
	payload, err := wire.EncodeFrame(&wire.Frame{Kind: wire.FrameReturn, ID: 5, Value: &v})
	if err != nil {
		b.Fatal(err)
	}
	chunk := append([]byte("warning: noise\n"), payload...)
	var s wire.Splitter
	for b.Loop() {
		frames, _ := s.Feed(chunk)
		for _, f := range frames {
			if _, err := wire.DecodeFrame(f); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// --- Proxy dispatch ---

func newSpace(b *testing.B) (*proxy.Space, int64) {
	b.Helper()
	reg := proxy.NewRegistry()
	def := proxy.NewClass[Calc]("bench.Calc").
		Method("pick", (*Calc).Pick, (*Calc).PickFloat)
	if err := reg.Register(def); err != nil {
		b.Fatal(err)
	}
	s := proxy.NewSpace(proxy.NewHandles(), reg, nil)
	w, err := s.Converter().ToGuest(&Calc{Base: 1})
	if err != nil {
		b.Fatal(err)
	}
	return s, w.Handle
}

func BenchmarkDispatch(b *testing.B) {
	pt, _ := convert.New(nil, nil).ToGuest(map[string]any{"X": 1.0, "Y": 2.0, "Label": "p"})
	cases := []struct {
		name string
		attr string
		args []wire.Value
	}{
		{"simple", "Add", []wire.Value{wire.Int(1), wire.Int(2)}},
		{"struct", "Scale", []wire.Value{pt, wire.Float(2)}},
		{"variadic", "Sum", []wire.Value{wire.Int(1), wire.Int(2), wire.Int(3), wire.Int(4)}},
		{"overload", "pick", []wire.Value{wire.Float(1.5)}},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			s, h := newSpace(b)
			defer s.Close()
			ctx := context.Background()
			f := &wire.Frame{Kind: wire.FrameCall, Op: wire.CallInvoke, Handle: h, Name: tc.attr, Args: tc.args}
			for b.Loop() {
				if _, err := s.Dispatch(ctx, f); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// --- End to end ---

func attach(b *testing.B) (*interp.Context, func()) {
	b.Helper()
	if os.Getenv(python.ModuleEnv) == "" {
		b.Skipf("%s not set", python.ModuleEnv)
	}
	lang, err := python.New()
	if err != nil {
		b.Fatal(err)
	}
	rt, err := interp.SharedTestRuntime(lang,
		interp.WithDiskCache(),
		interp.WithStartTimeout(2*time.Minute),
		interp.WithClasses(proxy.NewClass[Calc]("bench.Calc")),
	)
	if err != nil {
		b.Fatal(err)
	}
	c, err := rt.Attach(context.Background(), interp.Shared)
	if err != nil {
		b.Fatal(err)
	}
	src := "def add(a, b): return a + b\n" +
		"def use(calc): return calc.Add(1, 2)\n" +
		"def noop(): pass\n"
	if err := c.Exec(context.Background(), src); err != nil {
		b.Fatal(err)
	}
	return c, func() { c.Detach() }
}

func BenchmarkCall(b *testing.B) {
	c, done := attach(b)
	defer done()
	ctx := context.Background()

	b.Run("noop", func(b *testing.B) {
		for b.Loop() {
			if _, err := interp.Call0(ctx, c, "noop"); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("fast", func(b *testing.B) {
		for b.Loop() {
			if _, err := c.Call(ctx, "add", 1, 2); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("typed", func(b *testing.B) {
		for b.Loop() {
			if _, err := interp.CallAs[int](ctx, c, "add", 1, 2); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("callback", func(b *testing.B) {
		calc := &Calc{Base: 1}
		for b.Loop() {
			if _, err := c.Call(ctx, "use", calc); err != nil {
				b.Fatal(err)
			}
		}
	})
	for _, n := range []int{10, 1000} {
		b.Run(fmt.Sprintf("list_%d", n), func(b *testing.B) {
			xs := make([]int, n)
			for b.Loop() {
				if _, err := c.Call(ctx, "add", xs, xs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
