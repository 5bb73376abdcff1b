package pyerr

import (
	"errors"
	"reflect"
	"strings"

	"github.com/caffeineduck/pyhost/convert"
	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/hosttype"
	"github.com/caffeineduck/pyhost/proxy"
	"github.com/caffeineduck/pyhost/wire"
)

// ToWire describes a Go error for the guest. Bridge errors carry their kind
// so the guest raises the matching built-in exception (AttributeError,
// TypeError, OverflowError, StopIteration, KeyError, IndexError). Any other
// error is exported by reference and raised as pyhost.HostError with the
// proxy as payload. exp may be nil, in which case no payload is attached.
func ToWire(err error, exp convert.Exporter) *wire.ErrorInfo {
	info := &wire.ErrorInfo{
		Type:    typeName(err),
		Message: err.Error(),
	}

	var be *berrors.Error
	if errors.As(err, &be) {
		info.Kind = string(be.Kind)
		if be.Detail != "" {
			info.Message = be.Detail
		}
	}

	var exc *Exception
	if errors.As(err, &exc) && info.Kind == "" {
		info.Type = exc.Type
		info.Message = exc.Message
	}

	var pe *proxy.PanicError
	if errors.As(err, &pe) {
		info.Stack = strings.Split(strings.TrimSpace(string(pe.Stack)), "\n")
	}

	if exp != nil && info.Kind == "" {
		if v, xerr := exp.Export(reflect.ValueOf(err), hosttype.KindObject); xerr == nil {
			info.Value = &v
		}
	}
	return info
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
