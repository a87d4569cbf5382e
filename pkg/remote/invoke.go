package remote

import (
	"fmt"
	"reflect"

	"github.com/filebase-dev/filebase/pkg/route"
)

// checkType validates the compiled shape of a remote function:
// func(*page.Page, params...) with results (), (T), (error) or (T, error).
func checkType(t reflect.Type) error {
	if t.NumIn() == 0 || t.In(0) != pageType {
		return fmt.Errorf("%w: first parameter must be *page.Page", ErrSignature)
	}
	if t.IsVariadic() {
		return fmt.Errorf("%w: variadic parameters are not supported", ErrSignature)
	}
	for i := 1; i < t.NumIn(); i++ {
		if _, _, err := kindOf(t.In(i)); err != nil {
			return fmt.Errorf("%w: parameter %d: %v", ErrSignature, i, err)
		}
	}
	switch t.NumOut() {
	case 0, 1:
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("%w: second result must be error", ErrSignature)
		}
	default:
		return fmt.Errorf("%w: at most two results are allowed", ErrSignature)
	}
	return nil
}

// kindOf maps a Go parameter type onto the closed route type set.
func kindOf(t reflect.Type) (route.Type, bool, error) {
	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return route.TypeInt, nullable, nil
	case reflect.Float32, reflect.Float64:
		return route.TypeFloat, nullable, nil
	case reflect.Bool:
		return route.TypeBool, nullable, nil
	case reflect.String:
		return route.TypeString, nullable, nil
	case reflect.Interface:
		if !nullable && t.NumMethod() == 0 {
			return route.TypeAny, true, nil
		}
	}
	return 0, false, fmt.Errorf("unsupported type %s", t)
}

// Check verifies that the declared parameter schema agrees with the
// compiled function.
func (f *Func) Check(params []route.Param) error {
	t := f.Type()
	if t.NumIn()-1 != len(params) {
		return fmt.Errorf("%w: %s declares %d parameters but the registered function takes %d",
			ErrSignature, f.Name, len(params), t.NumIn()-1)
	}
	for i, p := range params {
		in := t.In(i + 1)
		typ, nullable, err := kindOf(in)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSignature, p.Name, err)
		}
		if typ != p.Type || nullable != p.Nullable {
			return fmt.Errorf("%w: parameter %s is %s in source but %s in the registered function",
				ErrSignature, p.Name, p.GoType, in)
		}
	}
	return nil
}

// Invoker returns a route.Invoker that converts canonical argument values
// to the declared Go types and calls f.
func (f *Func) Invoker() route.Invoker {
	t := f.Type()
	fn := f.value
	nOut := t.NumOut()
	lastIsError := nOut > 0 && t.Out(nOut-1) == errorType

	return func(args []any) (any, error) {
		if len(args) != t.NumIn() {
			return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrSignature, f.Name, t.NumIn(), len(args))
		}
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			v, err := convert(a, t.In(i))
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", f.Name, i, err)
			}
			in[i] = v
		}

		out := fn.Call(in)

		var err error
		if lastIsError {
			if e := out[nOut-1]; !e.IsNil() {
				err = e.Interface().(error)
			}
			out = out[:nOut-1]
		}
		if len(out) == 0 {
			return nil, err
		}
		return out[0].Interface(), err
	}
}

// convert turns a canonical value (int64, float64, bool, string, nil or any
// value for interface parameters) into a reflect.Value of type t.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if rv := reflect.ValueOf(v); rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	if t.Kind() == reflect.Pointer {
		elem, err := convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.(int64)
		if !ok || out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out.SetInt(n)
	case reflect.Float32, reflect.Float64:
		switch n := v.(type) {
		case float64:
			out.SetFloat(n)
		case int64:
			out.SetFloat(float64(n))
		default:
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out.SetBool(b)
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
		}
		out.SetString(s)
	default:
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
	}
	return out, nil
}
