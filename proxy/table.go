package proxy

import (
	"maps"
	"reflect"
	"slices"
	"sync"

	berrors "github.com/caffeineduck/pyhost/errors"
)

// AttrKind tags an attribute table entry.
type AttrKind uint8

const (
	AttrMethod AttrKind = iota + 1
	AttrGroup
	AttrField
)

// Attr is one attribute table entry: exactly one of Method, Group or Field
// is set, matching Kind.
type Attr struct {
	Kind   AttrKind
	Method *Method
	Group  *Group
	Field  *Field
}

// candidates returns the methods behind a Method or Group entry.
func (a Attr) candidates() *Group {
	switch a.Kind {
	case AttrMethod:
		return &Group{Name: a.Method.Name, Methods: []*Method{a.Method}}
	case AttrGroup:
		return a.Group
	}
	return nil
}

// Table is the attribute table of one class. Instance proxies share a
// table; class proxies hold a shallow copy that also caches constructors.
type Table struct {
	Class string
	Type  reflect.Type

	def   *ClassDef
	attrs map[string]Attr
	names []string

	ctorOnce sync.Once
	ctor     *Group
	ctorErr  error
}

// Get looks up an attribute.
func (t *Table) Get(name string) (Attr, bool) {
	a, ok := t.attrs[name]
	return a, ok
}

// Names lists attribute names in sorted order.
func (t *Table) Names() []string {
	return t.names
}

// Len is the number of attributes.
func (t *Table) Len() int {
	return len(t.attrs)
}

func (t *Table) classCopy() *Table {
	return &Table{
		Class: t.Class,
		Type:  t.Type,
		def:   t.def,
		attrs: maps.Clone(t.attrs),
		names: t.names,
	}
}

// Constructors resolves the class constructors on first use.
func (t *Table) Constructors() (*Group, error) {
	t.ctorOnce.Do(func() {
		if t.def == nil || len(t.def.ctors) == 0 {
			t.ctorErr = berrors.New(berrors.PhaseDispatch, berrors.KindNoConstructor).
				Path(t.Class).
				Detail("%s has no public constructor", t.Class).
				Build()
			return
		}
		g := &Group{Name: t.Class}
		for _, fn := range t.def.ctors {
			m, err := newMethod(t.Class, reflect.ValueOf(fn), false)
			if err != nil {
				t.ctorErr = err
				return
			}
			g.Methods = append(g.Methods, m)
		}
		t.ctor = g
	})
	return t.ctor, t.ctorErr
}

// buildTable scans the method set and fields of t, then the extras of def.
// Methods take precedence over fields of the same name.
func buildTable(class string, t reflect.Type, def *ClassDef) (*Table, error) {
	tb := &Table{Class: class, Type: t, def: def, attrs: make(map[string]Attr)}

	if t.Kind() != reflect.Interface {
		for i := 0; i < t.NumMethod(); i++ {
			rm := t.Method(i)
			if !rm.IsExported() {
				continue
			}
			m, err := newMethod(rm.Name, rm.Func, true)
			if err != nil {
				// Methods with shapes the bridge cannot call are skipped.
				continue
			}
			tb.addMethod(m)
		}
	}

	if def != nil {
		for _, nf := range def.methods {
			for _, fn := range nf.fns {
				m, err := newMethod(nf.name, reflect.ValueOf(fn), true)
				if err != nil {
					return nil, err
				}
				tb.addMethod(m)
			}
		}
		for _, nf := range def.statics {
			for _, fn := range nf.fns {
				m, err := newMethod(nf.name, reflect.ValueOf(fn), false)
				if err != nil {
					return nil, err
				}
				tb.addMethod(m)
			}
		}
	}

	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for _, sf := range reflect.VisibleFields(st) {
			if !sf.IsExported() {
				continue
			}
			if _, taken := tb.attrs[sf.Name]; taken {
				continue
			}
			tb.attrs[sf.Name] = Attr{Kind: AttrField, Field: &Field{Name: sf.Name, owner: st, index: sf.Index}}
		}
	}

	if def != nil {
		for _, sf := range def.staticFields {
			if _, taken := tb.attrs[sf.name]; taken {
				continue
			}
			tb.attrs[sf.name] = Attr{Kind: AttrField, Field: &Field{Name: sf.name, Static: true, ptr: sf.ptr}}
		}
	}

	tb.names = slices.Sorted(maps.Keys(tb.attrs))
	return tb, nil
}

func (t *Table) addMethod(m *Method) {
	cur, ok := t.attrs[m.Name]
	switch {
	case !ok:
		t.attrs[m.Name] = Attr{Kind: AttrMethod, Method: m}
	case cur.Kind == AttrMethod:
		t.attrs[m.Name] = Attr{Kind: AttrGroup, Group: &Group{Name: m.Name, Methods: []*Method{cur.Method, m}}}
	case cur.Kind == AttrGroup:
		cur.Group.Methods = append(cur.Group.Methods, m)
	}
}
