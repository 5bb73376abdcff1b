// Package interp runs an embedded Python interpreter and lets Go code
// evaluate Python, exchange values with it, and call in both directions.
//
// # Overview
//
// A [Runtime] owns one interpreter engine (RustPython compiled to WASI and
// run under wazero). Go goroutines attach to it to obtain a [Context], a
// Python namespace bound to that goroutine:
//
//	rt := interp.New(lang, interp.WithLogger(log))
//	if err := rt.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer rt.Finalize(ctx)
//
//	c, err := rt.Attach(ctx, interp.Shared)
//	if err != nil {
//	    return err
//	}
//	defer c.Detach()
//
//	c.Exec(ctx, "def add(a, b): return a + b")
//	n, err := interp.CallAs[int](ctx, c, "add", 1, 2)
//
// # Modes
//
// [Shared] contexts get a fresh namespace in the primary interpreter and see
// the same imported modules. [Isolated] contexts run in an interpreter
// instance of their own, started from the same compiled module and primed
// with the search paths and imports registered on the runtime.
//
// # Execution token
//
// Only one goroutine drives the interpreter at a time. The token is held
// while a command runs and released while Go code serves a callback from
// Python, so the callback may in turn call into Python on the same
// goroutine.
//
// # Values
//
// Arguments and results are converted by package convert. Go objects that
// have no Python counterpart are proxied: Python sees attribute access,
// method calls and the container protocols of the Go value. Python objects
// that have no Go counterpart arrive as [*PyObject] or, for iterators,
// [*PyIterator].
//
// # Errors
//
// Python exceptions surface as *pyerr.Exception carrying the Python
// traceback followed by the Go stack. Go errors returned to Python are
// raised as the matching built-in exception or as pyhost.HostError.
package interp
