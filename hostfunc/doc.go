// Package hostfunc provides the host side of the guest support modules.
//
// Python code running in the interpreter reaches the host through a small
// bridge module. Besides proxy callbacks, that module forwards three kinds
// of traffic which are served here:
//
//   - writes to the redirected sys.stdout and sys.stderr, delivered to
//     [Streams];
//   - records of the logging module, delivered to zap through [LogBridge];
//   - calls to named Go functions made with pyhost.call, dispatched by a
//     [Registry].
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("now", func(ctx context.Context, args []any) (any, error) {
//	    return time.Now(), nil
//	})
//
// From Python:
//
//	import pyhost
//	pyhost.call("now")
//
// # Log levels
//
// Python levels map to zap levels as follows: CRITICAL and ERROR to Error
// (CRITICAL records carry critical=true), WARNING to Warn, INFO to Info,
// DEBUG and NOTSET to Debug.
//
// # Mounts
//
// Host directories are exposed to the guest filesystem with [Mount]. Mounts
// are read-only unless [MountReadWrite] is requested.
package hostfunc
