package discovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDiscovery matches every discovery failure with errors.Is.
var ErrDiscovery = errors.New("discovery failed")

// Kind categorizes a discovery failure.
type Kind string

const (
	// KindLoad: the root or a route-source file could not be read or parsed.
	KindLoad Kind = "load"

	// KindDirective: a malformed //filebase:remote directive.
	KindDirective Kind = "directive"

	// KindSignature: a tagged function has a shape that cannot be called remotely.
	KindSignature Kind = "signature"

	// KindUnsupportedType: a parameter type outside int, float, bool, string and any.
	KindUnsupportedType Kind = "unsupported type"

	// KindReservedName: a user parameter uses the reserved context name.
	KindReservedName Kind = "reserved name"

	// KindDefault: a default value that does not fit its parameter.
	KindDefault Kind = "default"

	// KindPathSegment: a directory or function name that is not URL safe.
	KindPathSegment Kind = "path segment"

	// KindDuplicatePath: two functions derive the same route path.
	KindDuplicatePath Kind = "duplicate path"

	// KindUnregistered: a tagged function has no registered callable.
	KindUnregistered Kind = "unregistered"

	// KindAmbiguous: a tagged function matches several registrations.
	KindAmbiguous Kind = "ambiguous"
)

// Error is a single discovery failure located in a source file.
type Error struct {
	Kind   Kind
	File   string
	Line   int
	Column int
	Func   string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("discovery: ")
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d", e.Line)
			if e.Column > 0 {
				fmt.Fprintf(&sb, ":%d", e.Column)
			}
		}
		sb.WriteString(": ")
	}
	if e.Func != "" {
		sb.WriteString(e.Func)
		sb.WriteString(": ")
	}
	sb.WriteString(string(e.Kind))
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports true for ErrDiscovery.
func (e *Error) Is(target error) bool { return target == ErrDiscovery }

// Errors collects every failure of one discovery pass.
type Errors []*Error

func (e Errors) Error() string {
	switch len(e) {
	case 0:
		return "discovery: no errors"
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "discovery: %d errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, strings.TrimPrefix(err.Error(), "discovery: "))
	}
	return sb.String()
}

func (e Errors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}

func (e Errors) sort() {
	sort.SliceStable(e, func(i, j int) bool {
		if e[i].File != e[j].File {
			return e[i].File < e[j].File
		}
		return e[i].Line < e[j].Line
	})
}
