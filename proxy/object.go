package proxy

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caffeineduck/pyhost/hosttype"
)

// Object is the host side of a Python proxy: a Go value (or, for class
// proxies, only its type) plus the attribute table used to dispatch on it.
type Object struct {
	Value reflect.Value // invalid for class proxies
	Type  reflect.Type
	Kind  hosttype.ProxyKind
	Name  string

	table *Table

	callOnce sync.Once
	call     *Method
	callErr  error
}

// Table returns the attribute table the proxy dispatches through.
func (o *Object) Table() *Table { return o.table }

// IsClass reports whether the proxy stands for a class rather than an
// instance.
func (o *Object) IsClass() bool { return o.Kind == hosttype.KindClass }

func (o *Object) String() string {
	if o.IsClass() {
		return fmt.Sprintf("<class '%s'>", o.Name)
	}
	v := o.Value
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return fmt.Sprintf("<%s nil>", o.Name)
	}
	switch x := v.Interface().(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	if v.Kind() == reflect.Pointer && v.Elem().Kind() == reflect.Struct {
		return fmt.Sprintf("%s%+v", o.Name, v.Elem().Interface())
	}
	return fmt.Sprintf("%v", v.Interface())
}

// callable returns the Method for a proxied Go func.
func (o *Object) callable() (*Method, error) {
	o.callOnce.Do(func() {
		o.call, o.callErr = newMethod(o.Name, o.Value, false)
	})
	return o.call, o.callErr
}

type handle struct {
	obj  *Object
	refs int
}

// Handles is the table of Go values referenced from one Python
// interpreter. Handles are positive and never reused.
type Handles struct {
	mu      sync.Mutex
	next    int64
	entries map[int64]*handle
}

// NewHandles creates an empty handle table.
func NewHandles() *Handles {
	return &Handles{entries: make(map[int64]*handle)}
}

func (h *Handles) add(obj *Object) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.entries[h.next] = &handle{obj: obj, refs: 1}
	return h.next
}

// Get returns the object behind a handle.
func (h *Handles) Get(id int64) (*Object, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Retain adds a reference to an existing handle.
func (h *Handles) Retain(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if ok {
		e.refs++
	}
	return ok
}

// Release drops one reference per id, removing handles that reach zero.
// Unknown ids are ignored.
func (h *Handles) Release(ids ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		e, ok := h.entries[id]
		if !ok {
			continue
		}
		if e.refs--; e.refs <= 0 {
			delete(h.entries, id)
		}
	}
}

// Len is the number of live handles.
func (h *Handles) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops every handle.
func (h *Handles) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
}
