// Package pyerr carries application errors across the bridge: Python
// exceptions surfacing in Go, and Go errors surfacing in Python.
package pyerr

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/wire"
)

// Frame is one entry of a merged stack trace.
type Frame struct {
	File     string
	Line     int
	Function string
	Guest    bool
}

func (f Frame) String() string {
	if f.Guest {
		return fmt.Sprintf("%s (%s:%d) [python]", f.Function, f.File, f.Line)
	}
	return fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
}

// Exception is a Python exception raised to Go.
type Exception struct {
	Type    string
	Message string

	// Stack holds the Python traceback oldest first, followed by the Go
	// frames of the call that received the exception.
	Stack []Frame

	cause error
}

// Error renders "{Type}: {Message}".
func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// Unwrap returns the Go error the exception was raised from, when Python
// code let a host error propagate.
func (e *Exception) Unwrap() error { return e.cause }

// GuestFrames returns only the Python part of the stack.
func (e *Exception) GuestFrames() []Frame {
	for i, f := range e.Stack {
		if !f.Guest {
			return e.Stack[:i]
		}
	}
	return e.Stack
}

// Format prints the merged stack with %+v.
func (e *Exception) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, e.Error())
			for _, f := range e.Stack {
				io.WriteString(s, "\n\t")
				io.WriteString(s, f.String())
			}
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// HostLookup resolves a host handle to the Go error it proxies.
type HostLookup func(handle int64) (error, bool)

// FromWire converts an exception reported by the guest. Bridge failures
// raised inside the guest (unknown names, failed imports) come back as
// *errors.Error with the Exception as cause; everything else is an
// *Exception. skip counts the callers to omit from the Go part of the stack.
func FromWire(info *wire.ErrorInfo, lookup HostLookup, skip int) error {
	if info == nil {
		return berrors.New(berrors.PhaseGuest, berrors.KindProtocol).
			Detail("error frame without details").
			Build()
	}

	exc := &Exception{Type: info.Type, Message: info.Message}
	if exc.Type == "" {
		exc.Type = "Exception"
	}
	exc.Stack = append(guestFrames(info.Frames), goFrames(skip+1)...)

	if info.Handle != 0 && lookup != nil {
		if err, ok := lookup(info.Handle); ok {
			exc.cause = err
		}
	}

	if info.Kind != "" {
		kind := berrors.Kind(info.Kind)
		return berrors.New(phaseOf(kind), kind).
			PyType(exc.Type).
			Detail("%s", info.Message).
			Cause(exc).
			Build()
	}
	return exc
}

func phaseOf(k berrors.Kind) berrors.Phase {
	switch berrors.CategoryOf(k) {
	case berrors.CategoryLookup:
		return berrors.PhaseLookup
	case berrors.CategoryConversion:
		return berrors.PhaseToHost
	case berrors.CategoryOverload:
		return berrors.PhaseDispatch
	}
	return berrors.PhaseGuest
}

// guestFrames converts a traceback. An entry without a file or function
// makes the whole traceback unusable, and it is dropped.
func guestFrames(in []wire.FrameInfo) []Frame {
	out := make([]Frame, 0, len(in))
	for _, f := range in {
		if f.File == "" || f.Func == "" || f.Line < 0 {
			return nil
		}
		out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Func, Guest: true})
	}
	return out
}

func goFrames(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []Frame
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return out
}
