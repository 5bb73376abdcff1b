// Package config loads the pyhost.toml file used by the pyhost command.
//
// A minimal file:
//
//	[interpreter]
//	module = "~/.cache/pyhost/rustpython.wasm"
//	search_paths = ["/app"]
//	imports = ["json"]
//	mounts = ["/app:./scripts:ro"]
//
//	[runtime]
//	memory_limit = "256MB"
//	start_timeout = "45s"
//
//	[log]
//	level = "debug"
//	development = true
//
// Every key is optional. Command-line flags override file values.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/interp"
	"github.com/caffeineduck/pyhost/language/python"
)

// FileName is the configuration file looked up by Find.
const FileName = "pyhost.toml"

// Config is the decoded configuration file.
type Config struct {
	Interpreter Interpreter `toml:"interpreter"`
	Runtime     Runtime     `toml:"runtime"`
	Log         Log         `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// Interpreter selects the interpreter module and what is loaded into it
// before the first context attaches.
type Interpreter struct {
	Module      string   `toml:"module"`
	Mode        string   `toml:"mode"`
	SearchPaths []string `toml:"search_paths"`
	Imports     []string `toml:"imports"`
	Mounts      []string `toml:"mounts"` // virtual:host[:ro|rw]
}

// Runtime holds engine limits.
type Runtime struct {
	MemoryLimit     string        `toml:"memory_limit"` // e.g. "256MB", "1 GiB"
	DiskCache       bool          `toml:"disk_cache"`
	CacheDir        string        `toml:"cache_dir"`
	StartTimeout    time.Duration `toml:"start_timeout"`
	DeadlockTimeout time.Duration `toml:"deadlock_timeout"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Interpreter: Interpreter{Mode: "shared"},
		Runtime: Runtime{
			DiskCache:    true,
			StartTimeout: 30 * time.Second,
		},
		Log: Log{Level: "warn"},
	}
}

// Load reads the file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes TOML data on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Find walks up from dir looking for FileName.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		p := filepath.Join(dir, FileName)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Validate checks values that the decoder cannot.
func (c *Config) Validate() error {
	if _, err := interp.ParseMode(c.Interpreter.Mode); err != nil {
		return fmt.Errorf("interpreter.mode: %w", err)
	}
	if _, err := c.MemoryLimitBytes(); err != nil {
		return err
	}
	for _, spec := range c.Interpreter.Mounts {
		if _, err := ParseMount(spec); err != nil {
			return fmt.Errorf("interpreter.mounts: %w", err)
		}
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Runtime.StartTimeout < 0 || c.Runtime.DeadlockTimeout < 0 {
		return fmt.Errorf("runtime: timeouts must not be negative")
	}
	return nil
}

// Mode returns the parsed interpreter mode.
func (c *Config) Mode() interp.Mode {
	m, _ := interp.ParseMode(c.Interpreter.Mode)
	return m
}

// MemoryLimitBytes parses runtime.memory_limit. Zero means no limit.
func (c *Config) MemoryLimitBytes() (uint64, error) {
	s := strings.TrimSpace(c.Runtime.MemoryLimit)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("runtime.memory_limit: %w", err)
	}
	if n > 4<<30 {
		return 0, fmt.Errorf("runtime.memory_limit: %s exceeds the 4GB wasm32 address space", humanize.IBytes(n))
	}
	return n, nil
}

// ParseMount parses "virtual:host" or "virtual:host:mode" where mode is
// ro (the default) or rw.
func ParseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host[:mode])", spec)
	}
	m := hostfunc.Mount{VirtualPath: parts[0], HostPath: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			m.Mode = hostfunc.MountReadOnly
		case "rw":
			m.Mode = hostfunc.MountReadWrite
		default:
			return hostfunc.Mount{}, fmt.Errorf("invalid mount mode %q (expected ro or rw)", parts[2])
		}
	}
	return m, nil
}

// Language opens the interpreter module named by interpreter.module, or
// the default location when it is empty.
func (c *Config) Language() (*python.Python, error) {
	var opts []python.Option
	if c.Interpreter.Module != "" {
		opts = append(opts, python.WithModulePath(expandHome(c.Interpreter.Module)))
	}
	return python.New(opts...)
}

// Options converts the runtime section into interp options.
func (c *Config) Options() ([]interp.Option, error) {
	var opts []interp.Option
	for _, spec := range c.Interpreter.Mounts {
		m, err := ParseMount(spec)
		if err != nil {
			return nil, err
		}
		opts = append(opts, interp.WithMount(m.VirtualPath, expandHome(m.HostPath), m.Mode))
	}
	n, err := c.MemoryLimitBytes()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		opts = append(opts, interp.WithMemoryLimitBytes(n))
	}
	if c.Runtime.DiskCache {
		opts = append(opts, interp.WithDiskCache(expandHome(c.Runtime.CacheDir)))
	}
	if c.Runtime.StartTimeout > 0 {
		opts = append(opts, interp.WithStartTimeout(c.Runtime.StartTimeout))
	}
	if c.Runtime.DeadlockTimeout > 0 {
		opts = append(opts, interp.WithDeadlockTimeout(c.Runtime.DeadlockTimeout))
	}
	return opts, nil
}

// Prime adds the configured search paths and imports to an initialized
// runtime.
func (c *Config) Prime(ctx context.Context, rt *interp.Runtime) error {
	for _, p := range c.Interpreter.SearchPaths {
		if err := rt.AddSearchPath(ctx, p); err != nil {
			return err
		}
	}
	for _, m := range c.Interpreter.Imports {
		if err := rt.ImportModule(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
