// Package encode converts remote function results into response payloads.
//
// Scalars (strings, booleans, numbers and timestamps) become a plain-text
// body holding their literal form. Maps, structs, slices and arrays become
// JSON. A nil result is an empty body. Timestamps always use TimeFormat,
// both as scalars and inside JSON, so clients can decode them with
// ParseTime or any RFC 3339 parser.
package encode

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"
)

// TimeFormat is the canonical timestamp format. It matches the format
// time.Time uses for JSON.
const TimeFormat = time.RFC3339Nano

// Content types of encoded payloads.
const (
	ContentTypeText   = "text/plain; charset=utf-8"
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// Payload is an encoded result.
type Payload struct {
	Body        []byte
	ContentType string

	// Empty is set for nil results; the body is empty and ContentType unset.
	Empty bool
}

// FormatTime renders t in the canonical format.
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	bytesType     = reflect.TypeOf([]byte(nil))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// Encode converts v into a payload. Values that cannot be represented
// (channels, functions, complex numbers, non-finite floats, cycles) fail
// with *Error rather than being stringified.
func Encode(v any) (*Payload, error) {
	if v == nil {
		return &Payload{Empty: true}, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return &Payload{Empty: true}, nil
		}
		rv = rv.Elem()
	}

	if body, ok, err := scalar(rv); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return &Payload{Body: body, ContentType: ContentTypeText}, nil
	}

	if rv.Type() == bytesType {
		return &Payload{Body: rv.Bytes(), ContentType: ContentTypeBinary}, nil
	}

	target := rv.Interface()
	if rv.CanAddr() {
		target = rv.Addr().Interface()
	}
	if err := Validate(target); err != nil {
		return nil, err
	}
	body, err := json.Marshal(target)
	if err != nil {
		return nil, &Error{Path: "$", Type: rv.Type().String(), Err: err}
	}
	return &Payload{Body: body, ContentType: ContentTypeJSON}, nil
}

// scalar renders the literal body of a scalar value. ok is false for
// non-scalar kinds.
func scalar(rv reflect.Value) (body []byte, ok bool, err error) {
	if rv.Type() == timeType {
		return []byte(FormatTime(rv.Interface().(time.Time))), true, nil
	}
	if rv.Type().Implements(marshalerType) ||
		(rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(marshalerType)) {
		return nil, false, nil
	}

	switch rv.Kind() {
	case reflect.String:
		return []byte(rv.String()), true, nil
	case reflect.Bool:
		return strconv.AppendBool(nil, rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.AppendInt(nil, rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.AppendUint(nil, rv.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false, &Error{Path: "$", Type: rv.Type().String(), Err: ErrNonFinite}
		}
		return strconv.AppendFloat(nil, f, 'g', -1, rv.Type().Bits()), true, nil
	}
	return nil, false, nil
}
