// Package pyhost embeds a Python interpreter in a Go process and lets the
// two sides call each other.
//
// # Overview
//
// Python runs as RustPython compiled to WASI, hosted by wazero. Go values
// cross into Python either by value (numbers, strings, dates, lists, maps)
// or as proxies whose attributes and methods dispatch back into Go.
// Python objects without a Go counterpart come back as handles.
//
// # Basic Usage
//
//	lang, _ := python.New()
//	rt := interp.New(lang, interp.WithClasses(
//	    proxy.NewClass[Account]("bank.Account").Constructor(NewAccount)))
//	if err := rt.Initialize(ctx); err != nil { ... }
//	defer rt.Finalize(ctx)
//
//	c, _ := rt.Attach(ctx, interp.Shared)
//	defer c.Detach()
//
//	c.Exec(ctx, "def add(a, b): return a + b")
//	sum, _ := interp.CallAs[int](ctx, c, "add", 1, 2) // 3
//
//	// Go objects are proxied; their methods are callable from Python.
//	c.Exec(ctx, "def deposit(acct): return acct.Deposit(50)")
//	c.Call(ctx, "deposit", &Account{})
//
// # Errors
//
// Bridge failures are *errors.Error values with a phase and a kind.
// Python exceptions arrive as *pyerr.Exception carrying the merged Python
// and Go stack. A Go error returned by a proxied method and not caught in
// Python comes back unchanged and matches errors.Is.
//
// See the [interp], [proxy], [convert], [pyerr] and [language/python]
// packages for detailed API documentation.
package pyhost
