package hosttype

import (
	"reflect"
	"sync"
	"sync/atomic"

	berrors "github.com/caffeineduck/pyhost/errors"
)

// Well-known reflect types, resolved once at Init.
var (
	TypeAny       = reflect.TypeFor[any]()
	TypeError     = reflect.TypeFor[error]()
	TypeString    = reflect.TypeFor[string]()
	TypeBytes     = reflect.TypeFor[[]byte]()
	TypeChar      = reflect.TypeFor[Char]()
	TypeDate      = reflect.TypeFor[Date]()
	TypeTimeOfDay = reflect.TypeFor[TimeOfDay]()
)

type registry struct {
	known map[reflect.Type]TypeID
	cache sync.Map // reflect.Type -> TypeID
}

var (
	regMu   sync.Mutex
	regRefs int
	current atomic.Pointer[registry]
)

// Init populates the process-wide registry. Calls nest: every Init must be
// paired with a Release, and the registry is torn down by the last one.
func Init() {
	regMu.Lock()
	defer regMu.Unlock()

	regRefs++
	if current.Load() != nil {
		return
	}

	r := &registry{known: map[reflect.Type]TypeID{
		reflect.TypeFor[bool]():    Boolean,
		reflect.TypeFor[int8]():    Byte,
		reflect.TypeFor[uint8]():   Byte,
		reflect.TypeFor[int16]():   Short,
		reflect.TypeFor[uint16]():  Short,
		reflect.TypeFor[int32]():   Int,
		reflect.TypeFor[uint32]():  Int,
		reflect.TypeFor[int]():     Long,
		reflect.TypeFor[int64]():   Long,
		reflect.TypeFor[uint]():    Long,
		reflect.TypeFor[uint64]():  Long,
		reflect.TypeFor[float32](): Float,
		reflect.TypeFor[float64](): Double,
		TypeChar:                   CharID,
		TypeString:                 String,
		TypeBytes:                  Bytes,
		TypeAny:                    Object,
		TypeError:                  Object,
		TypeDate:                   Object,
		TypeTimeOfDay:              Object,
	}}
	current.Store(r)
}

// Release drops one Init reference.
func Release() {
	regMu.Lock()
	defer regMu.Unlock()

	if regRefs == 0 {
		return
	}
	regRefs--
	if regRefs == 0 {
		current.Store(nil)
	}
}

// Ready reports whether the registry is initialized.
func Ready() bool {
	return current.Load() != nil
}

// Resolve classifies t. A nil type is Void.
func Resolve(t reflect.Type) (TypeID, error) {
	r := current.Load()
	if r == nil {
		return Object, berrors.New(berrors.PhaseRegistry, berrors.KindNotInitialized).
			Detail("type registry used outside initialize/finalize").
			Build()
	}
	if t == nil {
		return Void, nil
	}
	if id, ok := r.known[t]; ok {
		return id, nil
	}
	if id, ok := r.cache.Load(t); ok {
		return id.(TypeID), nil
	}

	id, err := classify(t)
	if err != nil {
		return Object, err
	}
	r.cache.Store(t, id)
	return id, nil
}

func classify(t reflect.Type) (TypeID, error) {
	// Pointers to primitives are the boxed form and share the primitive id.
	if t.Kind() == reflect.Pointer {
		if id, ok := primitive(t.Elem()); ok {
			return id, nil
		}
	}
	if id, ok := primitive(t); ok {
		return id, nil
	}

	switch t.Kind() {
	case reflect.String:
		return String, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Bytes, nil
		}
		return ListID, nil
	case reflect.Map:
		return MapID, nil
	case reflect.Array:
		return Array, nil
	case reflect.Interface, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return Object, nil
	}
	return Object, berrors.Unrecognized(berrors.PhaseRegistry, t.String())
}

func primitive(t reflect.Type) (TypeID, bool) {
	if t == TypeChar {
		return CharID, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return Boolean, true
	case reflect.Int8, reflect.Uint8:
		return Byte, true
	case reflect.Int16, reflect.Uint16:
		return Short, true
	case reflect.Int32, reflect.Uint32:
		return Int, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return Long, true
	case reflect.Float32:
		return Float, true
	case reflect.Float64:
		return Double, true
	}
	return 0, false
}

// IsBoxed reports whether t is a pointer to a primitive type.
func IsBoxed(t reflect.Type) bool {
	if t == nil || t.Kind() != reflect.Pointer {
		return false
	}
	_, ok := primitive(t.Elem())
	return ok
}
