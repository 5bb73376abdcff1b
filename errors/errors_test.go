package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseToHost,
				Kind:   KindTypeMismatch,
				Path:   []string{"Point", "X"},
				GoType: "int32",
				PyType: "str",
				Detail: "cannot convert",
			},
			contains: []string{"[to_host]", "type_mismatch", "Point.X", "int32", "str", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLookup,
				Kind:  KindNotFound,
			},
			contains: []string{"[lookup]", "not_found"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseGuest,
				Kind:   KindStartup,
				Detail: "guest exited",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[guest]", "startup", "guest exited", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(PhaseDispatch, KindInvalidData).Cause(cause).Build()

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := New(PhaseLifecycle, KindClosed).Detail("context %s", "abc").Build()

	if !errors.Is(err, ErrContextClosed) {
		t.Error("expected match with ErrContextClosed")
	}
	if errors.Is(err, ErrFinalized) {
		t.Error("unexpected match with ErrFinalized")
	}

	wrapped := fmt.Errorf("detach: %w", err)
	if !errors.Is(wrapped, ErrContextClosed) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
}

func TestOverflowMessage(t *testing.T) {
	err := Overflow(int64(128), "int8", 8)
	if err.Kind != KindOverflow {
		t.Fatalf("kind = %s", err.Kind)
	}
	if !strings.Contains(err.Error(), "128 is outside the valid range of a 8-bit integer") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if err.Value != int64(128) {
		t.Errorf("value = %v", err.Value)
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindNotFound, CategoryLookup},
		{KindAttribute, CategoryLookup},
		{KindNoConstructor, CategoryLookup},
		{KindNoMatch, CategoryOverload},
		{KindWrongArity, CategoryOverload},
		{KindAmbiguous, CategoryOverload},
		{KindOverflow, CategoryConversion},
		{KindUnrecognizedType, CategoryConversion},
		{KindClosed, CategoryLifecycle},
		{KindWrongGoroutine, CategoryLifecycle},
		{Kind("custom"), CategoryApplication},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := CategoryOf(tt.kind); got != tt.want {
				t.Errorf("CategoryOf(%s) = %s, want %s", tt.kind, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("call: %w", NoAttribute("Calc", "missing"))
	kind, ok := KindOf(err)
	if !ok || kind != KindAttribute {
		t.Errorf("KindOf = %s, %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should have no kind")
	}
}
