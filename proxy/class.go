package proxy

import (
	"reflect"
	"slices"
	"strings"
	"sync"

	berrors "github.com/caffeineduck/pyhost/errors"
)

// ClassDef describes a Go type as a Python class: its dotted name for
// find_host_class, its constructors, and any methods Go cannot express on
// the type itself (overloads, statics, package-level variables).
//
//	proxy.NewClass[Calc]("demo.Calc").
//		Constructor(NewCalc, NewCalcWithBase).
//		Method("add", func(c *Calc, a, b int) int { ... }, func(c *Calc, a, b float64) float64 { ... }).
//		Static("zero", func() *Calc { ... })
type ClassDef struct {
	Name string
	Type reflect.Type

	ctors        []any
	methods      []namedFuncs
	statics      []namedFuncs
	staticFields []staticField
	err          error
}

type namedFuncs struct {
	name string
	fns  []any
}

type staticField struct {
	name string
	ptr  reflect.Value
}

// NewClass defines a class for T. Struct types are proxied through a
// pointer so that methods with pointer receivers and field writes work.
func NewClass[T any](name string) *ClassDef {
	return newClassDef(name, reflect.TypeFor[T]())
}

// ClassOf defines a class for the dynamic type of sample.
func ClassOf(name string, sample any) *ClassDef {
	return newClassDef(name, reflect.TypeOf(sample))
}

func newClassDef(name string, t reflect.Type) *ClassDef {
	c := &ClassDef{Name: name, Type: t}
	switch {
	case t == nil:
		c.err = berrors.New(berrors.PhaseRegistry, berrors.KindUnrecognizedType).
			Path(name).
			Detail("class has no type").
			Build()
	case t.Kind() == reflect.Struct:
		c.Type = reflect.PointerTo(t)
	}
	return c
}

// Constructor adds constructor overloads. Each must return the class type,
// optionally followed by an error.
func (c *ClassDef) Constructor(fns ...any) *ClassDef {
	c.ctors = append(c.ctors, fns...)
	return c
}

// Method adds overloads of an instance method. The first parameter of each
// func is the receiver.
func (c *ClassDef) Method(name string, fns ...any) *ClassDef {
	c.methods = append(c.methods, namedFuncs{name, fns})
	return c
}

// Static adds overloads of a function reachable from the class and its
// instances without a receiver.
func (c *ClassDef) Static(name string, fns ...any) *ClassDef {
	c.statics = append(c.statics, namedFuncs{name, fns})
	return c
}

// StaticField exposes the variable ptr points to as a class attribute.
func (c *ClassDef) StaticField(name string, ptr any) *ClassDef {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		c.fail(berrors.New(berrors.PhaseRegistry, berrors.KindUnrecognizedType).
			Path(c.Name, name).
			Detail("static field needs a non-nil pointer").
			Build())
		return c
	}
	c.staticFields = append(c.staticFields, staticField{name, rv})
	return c
}

// ShortName is the last component of the dotted name.
func (c *ClassDef) ShortName() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

func (c *ClassDef) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *ClassDef) validate() error {
	if c.err != nil {
		return c.err
	}
	if c.Name == "" {
		return berrors.New(berrors.PhaseRegistry, berrors.KindInvalidData).
			GoType(c.Type.String()).
			Detail("class name is empty").
			Build()
	}
	for _, fn := range c.ctors {
		m, err := parseFunc("<init>", reflect.ValueOf(fn), false)
		if err != nil {
			return err
		}
		if m.result == nil || !assignableClass(m.result, c.Type) {
			return berrors.New(berrors.PhaseRegistry, berrors.KindTypeMismatch).
				Path(c.Name, "<init>").
				GoType(reflect.TypeOf(fn).String()).
				Detail("constructor must return %s", c.Type).
				Build()
		}
	}
	for _, nf := range c.methods {
		for _, fn := range nf.fns {
			m, err := parseFunc(nf.name, reflect.ValueOf(fn), true)
			if err != nil {
				return err
			}
			if !assignableClass(c.Type, m.recv) {
				return berrors.New(berrors.PhaseRegistry, berrors.KindTypeMismatch).
					Path(c.Name, nf.name).
					GoType(m.recv.String()).
					Detail("receiver does not accept %s", c.Type).
					Build()
			}
		}
	}
	for _, nf := range c.statics {
		for _, fn := range nf.fns {
			if _, err := parseFunc(nf.name, reflect.ValueOf(fn), false); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignableClass reports whether a value of type from can serve as to,
// allowing a pointer to stand in for its element.
func assignableClass(from, to reflect.Type) bool {
	if from.AssignableTo(to) {
		return true
	}
	return from.Kind() == reflect.Pointer && from.Elem().AssignableTo(to)
}

// Registry maps dotted class names to definitions.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*ClassDef
	byType map[reflect.Type]*ClassDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*ClassDef),
		byType: make(map[reflect.Type]*ClassDef),
	}
}

// Register validates and adds class definitions.
func (r *Registry) Register(defs ...*ClassDef) error {
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		if _, dup := r.byName[d.Name]; dup {
			return berrors.New(berrors.PhaseRegistry, berrors.KindInvalidData).
				Path(d.Name).
				Detail("class %s registered twice", d.Name).
				Build()
		}
	}
	for _, d := range defs {
		r.byName[d.Name] = d
		r.byType[d.Type] = d
	}
	return nil
}

// Find returns the class registered under a dotted name.
func (r *Registry) Find(name string) (*ClassDef, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// ForType returns the class registered for t, if any.
func (r *Registry) ForType(t reflect.Type) (*ClassDef, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[t]
	return d, ok
}

// Names lists registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
