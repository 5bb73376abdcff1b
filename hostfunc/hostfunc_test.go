package hostfunc

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	berrors "github.com/caffeineduck/pyhost/errors"
)

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	r.Register("sum", func(ctx context.Context, args []any) (any, error) {
		total := int64(0)
		for _, a := range args {
			total += a.(int64)
		}
		return total, nil
	})

	got, err := r.Call(context.Background(), "sum", []any{int64(1), int64(2), int64(3)})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != int64(6) {
		t.Errorf("expected 6, got %v", got)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(context.Background(), "missing", nil)
	if kind, ok := berrors.KindOf(err); !ok || kind != berrors.KindNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "host function 'missing' not found") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestRegistryPropagatesErrors(t *testing.T) {
	sentinel := errors.New("quota exceeded")
	r := NewRegistry()
	r.Register("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, sentinel
	})
	if _, err := r.Call(context.Background(), "fail", nil); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel, got %v", err)
	}
}

func TestRegistryListAndMerge(t *testing.T) {
	noop := func(ctx context.Context, args []any) (any, error) { return nil, nil }

	a := NewRegistry()
	a.Register("b", noop)
	a.Register("a", noop)

	b := NewRegistry()
	b.Register("c", noop)
	b.Merge(a)
	b.Merge(nil)

	if got := b.List(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("List() = %v", got)
	}
}
