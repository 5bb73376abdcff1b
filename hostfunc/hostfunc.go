package hostfunc

import (
	"context"
	"slices"
	"sync"

	berrors "github.com/caffeineduck/pyhost/errors"
)

// Func is a Go function callable from Python as pyhost.call(name, *args).
// Arguments arrive converted to their default Go types.
type Func func(ctx context.Context, args []any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call runs the named function. An unknown name is a not_found error.
func (r *Registry) Call(ctx context.Context, name string, args []any) (any, error) {
	fn, ok := r.Get(name)
	if !ok {
		return nil, berrors.NotFound("host function", name)
	}
	return fn(ctx, args)
}

// Merge copies every function of other into r, replacing existing names.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range other.funcs {
		r.funcs[name] = fn
	}
}
