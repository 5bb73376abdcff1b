// Package python provides the RustPython adapter for pyhost: the interpreter
// module and the guest side of the bridge.
package python

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ModuleEnv names the environment variable consulted for the interpreter
// module when no path is given.
const ModuleEnv = "PYHOST_PYTHON_WASM"

// ModuleName is the file name of the interpreter module in the cache
// directory.
const ModuleName = "rustpython.wasm"

//go:embed bridge/*.py
var bridge embed.FS

// launcher starts the bridge without binding anything in __main__.
const launcher = "__import__('sys').path.insert(0, '/pyhost'); __import__('_pyhost').serve()"

// Python implements interp.Language for RustPython compiled to WASI.
type Python struct {
	module []byte
	path   string
}

// Option configures the adapter.
type Option func(*options)

type options struct {
	path   string
	module []byte
}

// WithModulePath loads the interpreter module from a file.
func WithModulePath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithModule uses an interpreter module already in memory.
func WithModule(wasm []byte) Option {
	return func(o *options) {
		o.module = wasm
	}
}

// New loads the interpreter module. Without options it reads the file named
// by PYHOST_PYTHON_WASM, then DefaultModulePath.
func New(opts ...Option) (*Python, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.module != nil {
		return &Python{module: o.module}, nil
	}

	path := o.path
	if path == "" {
		path = os.Getenv(ModuleEnv)
	}
	if path == "" {
		path = DefaultModulePath()
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load python module (set %s or run `pyhost fetch`): %w", ModuleEnv, err)
	}
	return &Python{module: wasm, path: path}, nil
}

// DefaultModulePath is where `pyhost fetch` stores the interpreter module.
func DefaultModulePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pyhost", ModuleName)
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// Module returns the RustPython WASM binary.
func (p *Python) Module() []byte {
	return p.module
}

// Path returns the file the module was loaded from, if any.
func (p *Python) Path() string {
	return p.path
}

// Args returns the command line that starts the bridge.
func (p *Python) Args() []string {
	return []string{"python", "-c", launcher}
}

// Support returns the bridge modules mounted at /pyhost in the guest.
func (p *Python) Support() fs.FS {
	return Bridge()
}

// Bridge returns the guest side of the bridge: _pyhost.py, which runs the
// serve loop, and the pyhost module visible to user code. Both run on any
// Python 3 interpreter.
func Bridge() fs.FS {
	sub, err := fs.Sub(bridge, "bridge")
	if err != nil {
		panic(err)
	}
	return sub
}
