package interp

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/proxy"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	stdout  io.Writer
	stderr  io.Writer
	logger  *zap.Logger
	classes []*proxy.ClassDef
	funcs   *hostfunc.Registry
	mounts  []hostfunc.Mount

	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)

	startTimeout    time.Duration
	stopTimeout     time.Duration
	deadlockTimeout time.Duration

	engine engine
}

func defaultConfig() config {
	return config{
		funcs:        hostfunc.NewRegistry(),
		startTimeout: 30 * time.Second,
		stopTimeout:  5 * time.Second,
	}
}

// WithStdout sets where Python's sys.stdout is written. Defaults to discard.
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		c.stdout = w
	}
}

// WithStderr sets where Python's sys.stderr is written. Defaults to discard.
func WithStderr(w io.Writer) Option {
	return func(c *config) {
		c.stderr = w
	}
}

// WithLogger sets the runtime logger. Python logging records are forwarded
// to it under the name "python".
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithClasses makes Go types findable from Python with
// pyhost.find_host_class.
func WithClasses(defs ...*proxy.ClassDef) Option {
	return func(c *config) {
		c.classes = append(c.classes, defs...)
	}
}

// WithHostFunc registers a Go function callable as pyhost.call(name, ...).
func WithHostFunc(name string, fn hostfunc.Func) Option {
	return func(c *config) {
		c.funcs.Register(name, fn)
	}
}

// WithHostFuncs registers every function of r.
func WithHostFuncs(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.funcs.Merge(r)
	}
}

// Mount permission modes (re-exported from hostfunc for convenience).
const (
	MountReadOnly  = hostfunc.MountReadOnly
	MountReadWrite = hostfunc.MountReadWrite
)

// WithMount exposes a host directory to the interpreter. The virtual path
// is what Python sees; add it with AddSearchPath to import from it.
//
// Examples:
//
//	interp.WithMount("/app", "./scripts", interp.MountReadOnly)
//	interp.WithMount("/out", "./results", interp.MountReadWrite)
func WithMount(virtualPath, hostPath string, mode hostfunc.MountMode) Option {
	return func(c *config) {
		c.mounts = append(c.mounts, hostfunc.Mount{
			VirtualPath: virtualPath,
			HostPath:    hostPath,
			Mode:        mode,
		})
	}
}

// WithDiskCache enables the persistent compilation cache. Optionally
// provide a directory; otherwise DefaultCacheDir is used.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory of each interpreter instance in
// 64KB pages. Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithMemoryLimitBytes is WithMemoryLimit in bytes, rounded up to whole
// pages.
func WithMemoryLimitBytes(n uint64) Option {
	return func(c *config) {
		c.memoryLimitPages = uint32((n + pageSize - 1) / pageSize)
	}
}

const pageSize = 64 * 1024

// Memory limit constants for convenience.
const (
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

// WithStartTimeout bounds how long an interpreter instance may take to
// become ready.
func WithStartTimeout(d time.Duration) Option {
	return func(c *config) {
		c.startTimeout = d
	}
}

// WithDeadlockTimeout reports goroutines that wait longer than d for the
// execution token. Zero, the default, disables the check.
func WithDeadlockTimeout(d time.Duration) Option {
	return func(c *config) {
		c.deadlockTimeout = d
	}
}

func withEngine(e engine) Option {
	return func(c *config) {
		c.engine = e
	}
}
