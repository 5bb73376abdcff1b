package proxy

import (
	"reflect"
	"sync"

	"github.com/caffeineduck/pyhost/convert"
	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/wire"
)

// Space is the proxy state of one execution context: its attribute table
// cache and converter, over the handle table of the interpreter the context
// runs in.
type Space struct {
	handles  *Handles
	registry *Registry
	conv     *convert.Converter

	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// NewSpace creates a Space. refs may be nil when Python objects never
// cross to Go.
func NewSpace(handles *Handles, registry *Registry, refs convert.GuestRefs) *Space {
	s := &Space{
		handles:  handles,
		registry: registry,
		tables:   make(map[string]*Table),
	}
	s.conv = convert.New(s, refs)
	return s
}

// Converter returns the converter bound to this space.
func (s *Space) Converter() *convert.Converter { return s.conv }

// Handles returns the underlying handle table.
func (s *Space) Handles() *Handles { return s.handles }

// Registry returns the class registry used by find_host_class.
func (s *Space) Registry() *Registry { return s.registry }

// Table returns the shared attribute table for t, building it on first use.
func (s *Space) Table(t reflect.Type) (*Table, error) {
	key := classKey(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, berrors.ErrContextClosed
	}
	if tb, ok := s.tables[key]; ok {
		return tb, nil
	}
	def, _ := s.registry.ForType(t)
	tb, err := buildTable(s.displayName(t, def), t, def)
	if err != nil {
		return nil, err
	}
	s.tables[key] = tb
	return tb, nil
}

// Export places rv in the handle table and returns its proxy value.
func (s *Space) Export(rv reflect.Value, kind hosttype.ProxyKind) (wire.Value, error) {
	if rv.Kind() == reflect.Struct && rv.CanAddr() {
		rv = rv.Addr()
	}
	t := rv.Type()
	tb, err := s.Table(t)
	if err != nil {
		return wire.Value{}, err
	}
	obj := &Object{Value: rv, Type: t, Kind: kind, Name: tb.Class, table: tb}
	return wire.Proxy(s.handles.add(obj), string(kind), obj.Name), nil
}

// ExportClass returns a class proxy for def. Each class proxy has its own
// copy of the attribute table so that its constructors are cached privately.
func (s *Space) ExportClass(def *ClassDef) (wire.Value, error) {
	tb, err := s.Table(def.Type)
	if err != nil {
		return wire.Value{}, err
	}
	obj := &Object{Type: def.Type, Kind: hosttype.KindClass, Name: tb.Class, table: tb.classCopy()}
	return wire.Proxy(s.handles.add(obj), string(hosttype.KindClass), obj.Name), nil
}

// Lookup implements convert.Exporter.
func (s *Space) Lookup(id int64) (reflect.Value, bool) {
	obj, ok := s.handles.Get(id)
	if !ok {
		return reflect.Value{}, false
	}
	return obj.Value, true
}

// Object returns the proxy object behind a handle.
func (s *Space) Object(id int64) (*Object, error) {
	obj, ok := s.handles.Get(id)
	if !ok {
		return nil, berrors.New(berrors.PhaseDispatch, berrors.KindInvalidData).
			Detail("unknown host handle %d", id).
			Build()
	}
	return obj, nil
}

// Close drops the attribute table cache. Handles are owned by the
// interpreter and are not touched.
func (s *Space) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.tables)
}

func (s *Space) displayName(t reflect.Type, def *ClassDef) string {
	if def != nil {
		return def.ShortName()
	}
	if t.Kind() == reflect.Pointer && t.Elem().Name() != "" {
		return t.Elem().Name()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// classKey identifies a type uniquely by package path, unlike
// reflect.Type.String.
func classKey(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		return "*" + classKey(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
