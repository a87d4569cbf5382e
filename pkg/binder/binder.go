// Package binder turns untyped request parameters into the typed argument
// list of a remote function.
package binder

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/route"
)

// ErrBinding matches every binding failure with errors.Is.
var ErrBinding = errors.New("binding failed")

// MissingParameterError reports an absent required parameter.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}

// Is reports true for ErrBinding.
func (e *MissingParameterError) Is(target error) bool { return target == ErrBinding }

// TypeCoercionError reports a value that cannot be converted to the
// declared parameter type.
type TypeCoercionError struct {
	Param    string
	Expected route.Type
	Raw      string
	Err      error
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("parameter %q: cannot use %q as %s", e.Param, e.Raw, e.Expected)
}

func (e *TypeCoercionError) Unwrap() error { return e.Err }

// Is reports true for ErrBinding.
func (e *TypeCoercionError) Is(target error) bool { return target == ErrBinding }

// Args is a bound argument list. Args[0] is always the request page.
type Args []any

// Bind produces the argument list for params from the request values.
// Required parameters must be present; absent optional parameters take
// their default as is. Keys that match no parameter are ignored.
func Bind(p *page.Page, values map[string]string, params []route.Param) (Args, error) {
	args := make(Args, 1, len(params)+1)
	args[0] = p

	for _, param := range params {
		raw, ok := values[param.Name]
		if !ok {
			if !param.HasDefault {
				return nil, &MissingParameterError{Param: param.Name}
			}
			args = append(args, param.Default)
			continue
		}

		v, err := Coerce(raw, param)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// Coerce converts raw to the canonical value of the parameter type:
// int64, float64, bool or string.
func Coerce(raw string, param route.Param) (any, error) {
	fail := func(err error) error {
		return &TypeCoercionError{Param: param.Name, Expected: param.Type, Raw: raw, Err: err}
	}

	switch param.Type {
	case route.TypeInt:
		bits := param.Bits
		if bits == 0 {
			bits = 64
		}
		n, err := strconv.ParseInt(raw, 10, bits)
		if err != nil {
			return nil, fail(err)
		}
		return n, nil

	case route.TypeFloat:
		bits := param.Bits
		if bits == 0 {
			bits = 64
		}
		f, err := strconv.ParseFloat(raw, bits)
		if err != nil {
			return nil, fail(err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fail(errors.New("value is not finite"))
		}
		return f, nil

	case route.TypeBool:
		b, ok := ParseBool(raw)
		if !ok {
			return nil, fail(errors.New("not a boolean literal"))
		}
		return b, nil

	default:
		return raw, nil
	}
}

// ParseBool accepts true/false, 1/0, yes/no, on/off and t/f in any case.
func ParseBool(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on", "t":
		return true, true
	case "false", "0", "no", "off", "f":
		return false, true
	}
	return false, false
}
