// Package errors defines the typed failures raised by the bridge itself.
//
// Application errors (a Python exception, a Go error returned by a proxied
// method) are not represented here; see package pyerr.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseRegistry  Phase = "registry"  // type classification
	PhaseToGuest   Phase = "to_guest"  // Go to Python
	PhaseToHost    Phase = "to_host"   // Python to Go
	PhaseDispatch  Phase = "dispatch"  // proxy method/field/constructor calls
	PhaseLookup    Phase = "lookup"    // namespace and class lookups
	PhaseLifecycle Phase = "lifecycle" // initialize, attach, detach, finalize
	PhaseGuest     Phase = "guest"     // interpreter transport
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAttribute        Kind = "attribute"
	KindReadOnly         Kind = "read_only"
	KindNoConstructor    Kind = "no_constructor"
	KindNoMatch          Kind = "no_match"
	KindWrongArity       Kind = "wrong_arity"
	KindAmbiguous        Kind = "ambiguous"
	KindUnrecognizedType Kind = "unrecognized_type"
	KindTypeMismatch     Kind = "type_mismatch"
	KindOverflow         Kind = "overflow"
	KindInvalidData      Kind = "invalid_data"
	KindIndex            Kind = "index"
	KindKey              Kind = "key"
	KindExhausted        Kind = "exhausted"
	KindNotInitialized   Kind = "not_initialized"
	KindFinalized        Kind = "finalized"
	KindClosed           Kind = "closed"
	KindInvalidMode      Kind = "invalid_mode"
	KindWrongGoroutine   Kind = "wrong_goroutine"
	KindAlreadyAttached  Kind = "already_attached"
	KindStillAttached    Kind = "still_attached"
	KindStartup          Kind = "startup"
	KindProtocol         Kind = "protocol"
)

// Category groups kinds into the five failure families of the bridge.
type Category string

const (
	CategoryLookup      Category = "lookup"
	CategoryOverload    Category = "overload"
	CategoryConversion  Category = "conversion"
	CategoryLifecycle   Category = "lifecycle"
	CategoryApplication Category = "application"
)

// Sentinels for errors.Is checks. Only Phase and Kind take part in matching.
var (
	ErrNotInitialized = &Error{Phase: PhaseLifecycle, Kind: KindNotInitialized}
	ErrFinalized      = &Error{Phase: PhaseLifecycle, Kind: KindFinalized}
	ErrContextClosed  = &Error{Phase: PhaseLifecycle, Kind: KindClosed}
	ErrWrongGoroutine = &Error{Phase: PhaseLifecycle, Kind: KindWrongGoroutine}
	ErrNoMoreElements = &Error{Phase: PhaseToHost, Kind: KindExhausted}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	PyType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	typed := e.GoType != "" || e.PyType != ""
	if typed {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.PyType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", Python type ")
			b.WriteString(e.PyType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("Python type ")
			b.WriteString(e.PyType)
		}
	}

	if e.Detail != "" {
		if typed {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Category reports which failure family the error belongs to.
func (e *Error) Category() Category {
	return CategoryOf(e.Kind)
}

// CategoryOf maps a kind to its failure family.
func CategoryOf(k Kind) Category {
	switch k {
	case KindNotFound, KindAttribute, KindReadOnly, KindNoConstructor, KindIndex, KindKey:
		return CategoryLookup
	case KindNoMatch, KindWrongArity, KindAmbiguous:
		return CategoryOverload
	case KindUnrecognizedType, KindTypeMismatch, KindOverflow, KindInvalidData, KindExhausted:
		return CategoryConversion
	case KindNotInitialized, KindFinalized, KindClosed, KindInvalidMode, KindWrongGoroutine,
		KindAlreadyAttached, KindStillAttached, KindStartup, KindProtocol:
		return CategoryLifecycle
	}
	return CategoryApplication
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the attribute path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// PyType sets the Python type name
func (b *Builder) PyType(t string) *Builder {
	b.err.PyType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, pyType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		PyType: pyType,
	}
}

// Overflow reports an integer that does not fit the target width.
func Overflow(value any, goType string, bits int) *Error {
	return &Error{
		Phase:  PhaseToHost,
		Kind:   KindOverflow,
		Value:  value,
		GoType: goType,
		Detail: fmt.Sprintf("%v is outside the valid range of a %d-bit integer", value, bits),
	}
}

// Unrecognized reports a Go type the bridge cannot classify or convert.
func Unrecognized(phase Phase, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnrecognizedType,
		GoType: goType,
	}
}

// NoAttribute reports a missing attribute on a proxied class.
func NoAttribute(class, name string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindAttribute,
		Path:   []string{class, name},
		Detail: fmt.Sprintf("'%s' object has no attribute '%s'", class, name),
	}
}

// NotFound reports a missing module, name or class.
func NotFound(what, name string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("%s '%s' not found", what, name),
	}
}

// NoMoreElements reports iterator exhaustion.
func NoMoreElements() *Error {
	return &Error{
		Phase:  PhaseToHost,
		Kind:   KindExhausted,
		Detail: "no more elements",
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
