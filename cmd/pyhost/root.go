package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyhost/config"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/interp"
	"github.com/caffeineduck/pyhost/pyerr"
)

var rootCmd = &cobra.Command{
	Use:   "pyhost [file]",
	Short: "Run Python embedded in a Go host",
	Long: `pyhost - Run Python inside a Go process using RustPython on WebAssembly.

Run code from files, inline strings, or stdin, or start an interactive
REPL. Settings are read from pyhost.toml in the current directory or any
parent, and flags override them. Use 'pyhost fetch' to download the
interpreter module.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun, // Default to run command behavior
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: pyhost.toml in this or a parent directory)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("module", "", "Path to the RustPython WASM module")
	pf.String("mode", "", "Interpreter mode: shared, isolated")
	pf.String("memory", "", "Memory limit, e.g. 64MB or 1GiB")
	pf.Bool("no-cache", false, "Disable compilation cache")
	pf.StringSlice("mount", nil, "Mount host directory virtual:host[:ro|rw] (repeatable)")
	pf.StringSlice("path", nil, "Add a directory to sys.path (repeatable)")
	pf.StringSlice("import", nil, "Import a module before running (repeatable)")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	var (
		cfg *config.Config
		err error
	)
	path, _ := flags.GetString("config")
	if path == "" {
		path, _ = config.Find(".")
	}
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("module") {
		cfg.Interpreter.Module, _ = flags.GetString("module")
	}
	if flags.Changed("mode") {
		cfg.Interpreter.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("memory") {
		cfg.Runtime.MemoryLimit, _ = flags.GetString("memory")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Runtime.DiskCache = false
	}
	mounts, _ := flags.GetStringSlice("mount")
	cfg.Interpreter.Mounts = append(cfg.Interpreter.Mounts, mounts...)
	paths, _ := flags.GetStringSlice("path")
	cfg.Interpreter.SearchPaths = append(cfg.Interpreter.SearchPaths, paths...)
	imports, _ := flags.GetStringSlice("import")
	cfg.Interpreter.Imports = append(cfg.Interpreter.Imports, imports...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is an initialized runtime with one attached context.
type session struct {
	rt  *interp.Runtime
	ctx *interp.Context
	log *zap.Logger
}

func openSession(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*session, error) {
	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	interp.SetLogger(log)
	hostfunc.SetLogger(log)

	lang, err := cfg.Language()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		interp.WithLogger(log),
		interp.WithStdout(stdout),
		interp.WithStderr(stderr),
		interp.WithHostFunc("getenv", getenv),
	)

	rt := interp.New(lang, opts...)
	if err := rt.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := cfg.Prime(ctx, rt); err != nil {
		rt.Finalize(ctx)
		return nil, err
	}
	c, err := rt.Attach(ctx, cfg.Mode())
	if err != nil {
		rt.Finalize(ctx)
		return nil, err
	}
	log.Debug("session ready", zap.String("module", lang.Path()), zap.Stringer("mode", c.Mode()))
	return &session{rt: rt, ctx: c, log: log}, nil
}

func (s *session) close(ctx context.Context) error {
	err := multierr.Combine(s.ctx.Detach(), s.rt.Finalize(ctx))
	s.log.Sync()
	return err
}

// getenv is exposed to scripts as pyhost.call("getenv", name).
func getenv(_ context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("getenv takes 1 argument, got %d", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("getenv: name must be a string, got %T", args[0])
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

// formatError renders Python exceptions as a traceback.
func formatError(err error) string {
	var exc *pyerr.Exception
	if !errors.As(err, &exc) {
		return fmt.Sprintf("Error: %v\n", err)
	}
	var b strings.Builder
	if frames := exc.GuestFrames(); len(frames) > 0 {
		b.WriteString("Traceback (most recent call last):\n")
		for _, f := range frames {
			fmt.Fprintf(&b, "  File %q, line %d, in %s\n", f.File, f.Line, f.Function)
		}
	}
	b.WriteString(exc.Error())
	b.WriteByte('\n')
	return b.String()
}
