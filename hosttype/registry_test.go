package hosttype

import (
	"errors"
	"math/big"
	"os"
	"reflect"
	"testing"
	"time"

	berrors "github.com/caffeineduck/pyhost/errors"
)

func TestMain(m *testing.M) {
	Init()
	code := m.Run()
	Release()
	os.Exit(code)
}

type celsius float64

type point struct{ X, Y int }

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want TypeID
	}{
		{"bool", reflect.TypeFor[bool](), Boolean},
		{"int8", reflect.TypeFor[int8](), Byte},
		{"int16", reflect.TypeFor[int16](), Short},
		{"int32", reflect.TypeFor[int32](), Int},
		{"int64", reflect.TypeFor[int64](), Long},
		{"int", reflect.TypeFor[int](), Long},
		{"float32", reflect.TypeFor[float32](), Float},
		{"float64", reflect.TypeFor[float64](), Double},
		{"named float", reflect.TypeFor[celsius](), Double},
		{"char", reflect.TypeFor[Char](), CharID},
		{"string", reflect.TypeFor[string](), String},
		{"bytes", reflect.TypeFor[[]byte](), Bytes},
		{"slice", reflect.TypeFor[[]string](), ListID},
		{"map", reflect.TypeFor[map[string]int](), MapID},
		{"array", reflect.TypeFor[[3]int](), Array},
		{"boxed int", reflect.TypeFor[*int32](), Int},
		{"boxed bool", reflect.TypeFor[*bool](), Boolean},
		{"struct", reflect.TypeFor[point](), Object},
		{"pointer", reflect.TypeFor[*point](), Object},
		{"any", reflect.TypeFor[any](), Object},
		{"time", reflect.TypeFor[time.Time](), Object},
		{"big int", reflect.TypeFor[*big.Int](), Object},
		{"void", nil, Void},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.typ)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveUnrecognized(t *testing.T) {
	for _, typ := range []reflect.Type{reflect.TypeFor[complex128](), reflect.TypeFor[complex64]()} {
		_, err := Resolve(typ)
		kind, ok := berrors.KindOf(err)
		if !ok || kind != berrors.KindUnrecognizedType {
			t.Errorf("%s: expected unrecognized type error, got %v", typ, err)
		}
	}
}

func TestResolveCachesConcurrently(t *testing.T) {
	typ := reflect.TypeFor[map[point][]int]()
	done := make(chan TypeID, 8)
	for i := 0; i < 8; i++ {
		go func() {
			id, _ := Resolve(typ)
			done <- id
		}()
	}
	for i := 0; i < 8; i++ {
		if id := <-done; id != MapID {
			t.Errorf("got %s", id)
		}
	}
}

func TestResolveBeforeInit(t *testing.T) {
	// Nested Init/Release keeps the outer registry alive.
	Init()
	Release()
	if !Ready() {
		t.Fatal("registry released while still referenced")
	}

	saved := current.Swap(nil)
	defer current.Store(saved)

	_, err := Resolve(reflect.TypeFor[int]())
	if !errors.Is(err, &berrors.Error{Phase: berrors.PhaseRegistry, Kind: berrors.KindNotInitialized}) {
		t.Errorf("expected not initialized error, got %v", err)
	}
}

type intList struct{ items []any }

func (l *intList) Iterator() Iterator     { return nil }
func (l *intList) Len() int               { return len(l.items) }
func (l *intList) Contains(v any) bool    { return false }
func (l *intList) Get(i int) (any, error) { return l.items[i], nil }
func (l *intList) Set(i int, v any) error { l.items[i] = v; return nil }

func TestProxyKindOf(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want ProxyKind
	}{
		{"list impl", reflect.TypeFor[*intList](), KindList},
		{"recv chan", reflect.TypeFor[<-chan int](), KindIterator},
		{"send chan", reflect.TypeFor[chan<- int](), KindObject},
		{"func", reflect.TypeFor[func(int) int](), KindCallable},
		{"struct", reflect.TypeFor[*point](), KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProxyKindOf(tt.typ); got != tt.want {
				t.Errorf("ProxyKindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTemporal(t *testing.T) {
	ts := time.Date(2024, time.February, 29, 13, 45, 30, 123456789, time.UTC)
	d := DateOf(ts)
	if d != (Date{2024, time.February, 29}) || !d.IsValid() {
		t.Errorf("DateOf = %v", d)
	}
	if (Date{2023, time.February, 29}).IsValid() {
		t.Error("2023-02-29 should be invalid")
	}
	tod := TimeOf(ts)
	if tod.String() != "13:45:30.123456" {
		t.Errorf("TimeOf = %s", tod)
	}
	if Char('é').String() != "é" {
		t.Error("Char.String")
	}
}
