package interp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"

	"github.com/caffeineduck/pyhost/hostfunc"
)

// SupportDir is where the bridge package of a Language is mounted in the
// guest filesystem.
const SupportDir = "/pyhost"

// Language supplies the interpreter module and the bridge program it runs.
type Language interface {
	// Name identifies the interpreter, e.g. "python".
	Name() string

	// Module returns the WASM binary of the interpreter.
	Module() []byte

	// Args returns the command line that starts the bridge serve loop.
	Args() []string

	// Support returns the bridge package, mounted read-only at SupportDir.
	Support() fs.FS
}

// instance describes one interpreter to run.
type instance struct {
	name   string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// engine runs interpreter instances. run blocks until the instance exits
// or ctx is cancelled.
type engine interface {
	run(ctx context.Context, inst instance) error
	close(ctx context.Context) error
}

// wazeroEngine compiles the interpreter once and runs every instance from
// the compiled module.
type wazeroEngine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
	args     []string
	fs       wazero.FSConfig
}

func newWazeroEngine(ctx context.Context, lang Language, cfg *config) (*wazeroEngine, error) {
	if lang == nil {
		return nil, errors.New("no interpreter language configured")
	}
	mounts, err := hostfunc.NormalizeMounts(cfg.mounts, SupportDir)
	if err != nil {
		return nil, err
	}

	var cache wazero.CompilationCache
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = DefaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	e := &wazeroEngine{runtime: rt, cache: cache, args: lang.Args()}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		e.close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	e.compiled, err = rt.CompileModule(ctx, lang.Module())
	if err != nil {
		e.close(ctx)
		return nil, fmt.Errorf("compile %s: %w", lang.Name(), err)
	}

	fsConfig := wazero.NewFSConfig()
	if support := lang.Support(); support != nil {
		fsConfig = fsConfig.WithFSMount(support, SupportDir)
	}
	e.fs = hostfunc.ApplyMounts(fsConfig, mounts)
	return e, nil
}

func (e *wazeroEngine) run(ctx context.Context, inst instance) error {
	moduleConfig := wazero.NewModuleConfig().
		WithStdin(inst.stdin).
		WithStdout(inst.stdout).
		WithStderr(inst.stderr).
		WithArgs(e.args...).
		WithFSConfig(e.fs).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithName("")

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, moduleConfig)
	if mod != nil {
		mod.Close(context.Background())
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 0 {
		return nil
	}
	return err
}

func (e *wazeroEngine) close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		err = multierr.Append(err, e.cache.Close(ctx))
	}
	return err
}

// DefaultCacheDir is the compilation cache location used by WithDiskCache
// without an explicit directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "pyhost")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "pyhost")
	}
	return filepath.Join(os.TempDir(), "pyhost-cache")
}
