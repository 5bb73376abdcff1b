package hosttype

import "reflect"

// Iterator is a forward-only, single-pass sequence. Next returns an error
// matching errors.ErrNoMoreElements once the sequence is exhausted.
type Iterator interface {
	HasNext() bool
	Next() (any, error)
}

// Iterable produces a fresh Iterator per call.
type Iterable interface {
	Iterator() Iterator
}

// Collection is an Iterable with a size and membership test.
type Collection interface {
	Iterable
	Len() int
	Contains(v any) bool
}

// List is an indexed Collection. Indices are zero-based and already
// normalized; out-of-range indices should return an error.
type List interface {
	Collection
	Get(i int) (any, error)
	Set(i int, v any) error
}

// Map is a keyed container.
type Map interface {
	Len() int
	Get(key any) (any, bool)
	Put(key, value any) error
	Remove(key any) error
	ContainsKey(key any) bool
	Keys() []any
	Values() []any
}

// ProxyKind selects which Python protocol a proxied value implements.
type ProxyKind string

const (
	KindObject     ProxyKind = "object"
	KindClass      ProxyKind = "class"
	KindList       ProxyKind = "list"
	KindMap        ProxyKind = "map"
	KindCollection ProxyKind = "collection"
	KindIterable   ProxyKind = "iterable"
	KindIterator   ProxyKind = "iterator"
	KindCallable   ProxyKind = "callable"
	KindMethod     ProxyKind = "method"
)

var (
	listType       = reflect.TypeFor[List]()
	mapType        = reflect.TypeFor[Map]()
	collectionType = reflect.TypeFor[Collection]()
	iterableType   = reflect.TypeFor[Iterable]()
	iteratorType   = reflect.TypeFor[Iterator]()
)

// ProxyKindOf classifies a Go type that is exposed by reference.
func ProxyKindOf(t reflect.Type) ProxyKind {
	switch {
	case t.Implements(listType):
		return KindList
	case t.Implements(mapType):
		return KindMap
	case t.Implements(collectionType):
		return KindCollection
	case t.Implements(iterableType):
		return KindIterable
	case t.Implements(iteratorType):
		return KindIterator
	}
	switch t.Kind() {
	case reflect.Chan:
		if t.ChanDir()&reflect.RecvDir != 0 {
			return KindIterator
		}
	case reflect.Func:
		return KindCallable
	}
	return KindObject
}

// IsContainer reports whether t implements one of the collection protocol
// interfaces. Such values are proxied rather than copied.
func IsContainer(t reflect.Type) bool {
	return t.Implements(iteratorType) || t.Implements(iterableType) || t.Implements(mapType)
}
