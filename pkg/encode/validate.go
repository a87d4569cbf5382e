package encode

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// MaxDepth bounds how deeply nested a result may be.
const MaxDepth = 128

// Reasons carried by Error.
var (
	ErrUnsupported = errors.New("value kind cannot be serialized")
	ErrNonFinite   = errors.New("float is not finite")
	ErrMapKey      = errors.New("map key type cannot be serialized")
	ErrCycle       = errors.New("value contains a reference cycle")
	ErrDepth       = errors.New("value is nested too deeply")
)

// Error reports a value that cannot be serialized. Path locates the value
// inside the result ("$" is the result itself).
type Error struct {
	Path string
	Type string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("encode: %s at %s: %v", e.Type, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

// Validate walks v and reports the first part that has no JSON form.
// Types implementing json.Marshaler are trusted.
func Validate(v any) error {
	w := walker{seen: make(map[uintptr]bool)}
	return w.walk(reflect.ValueOf(v), "$", 0)
}

type walker struct {
	seen map[uintptr]bool
}

func (w walker) walk(v reflect.Value, path string, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > MaxDepth {
		return &Error{Path: path, Type: v.Type().String(), Err: ErrDepth}
	}
	t := v.Type()
	if t.Implements(marshalerType) {
		return nil
	}
	if v.CanAddr() && reflect.PointerTo(t).Implements(marshalerType) {
		return nil
	}

	fail := func(err error) error {
		return &Error{Path: path, Type: t.String(), Err: err}
	}

	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fail(ErrUnsupported)

	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return fail(ErrNonFinite)
		}

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), path, depth+1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if w.seen[ptr] {
			return fail(ErrCycle)
		}
		w.seen[ptr] = true
		defer delete(w.seen, ptr)
		return w.walk(v.Elem(), path, depth+1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if !validMapKey(t.Key()) {
			return fail(ErrMapKey)
		}
		ptr := v.Pointer()
		if w.seen[ptr] {
			return fail(ErrCycle)
		}
		w.seen[ptr] = true
		defer delete(w.seen, ptr)

		iter := v.MapRange()
		for iter.Next() {
			key := mapKey(iter.Key())
			if err := w.walk(iter.Value(), path+"."+key, depth+1); err != nil {
				return err
			}
		}

	case reflect.Slice:
		if v.IsNil() || t.Elem().Kind() == reflect.Uint8 {
			return nil
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := w.walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}

	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() && !embeddedStruct(f) {
				continue
			}
			name := f.Name
			if tag := f.Tag.Get("json"); tag != "" {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			if err := w.walk(v.Field(i), path+"."+name, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validMapKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return t.Implements(textMarshalerType)
}

// embeddedStruct reports whether f is an embedded struct or struct
// pointer. Their exported fields are promoted even when the embedded type
// is unexported; every other unexported field is left out of the JSON.
func embeddedStruct(f reflect.StructField) bool {
	if !f.Anonymous {
		return false
	}
	t := f.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// mapKey formats a key for error paths. Keys reached through unexported
// embedded fields are read-only, so Interface is not called on them.
func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	return fmt.Sprint(k)
}
