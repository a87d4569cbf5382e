package route

import (
	"fmt"
	"strings"
)

// Type is the declared type of a route parameter. The set is closed:
// anything outside it is rejected during discovery.
type Type uint8

const (
	TypeAny Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "any"
	}
}

// Param describes one user-supplied parameter of a remote function.
type Param struct {
	// Name is the declared parameter name, also the request key.
	Name string

	// Type is the coercion target.
	Type Type

	// Bits is the declared width for int and float parameters (8..64).
	Bits int

	// Nullable is set for pointer parameters (*string, *int, ...) and any.
	Nullable bool

	// GoType is the type as written in source, e.g. "*int32".
	GoType string

	// HasDefault reports whether Default applies when the key is absent.
	HasDefault bool

	// Default is the canonical default value: int64, float64, bool, string,
	// or nil.
	Default any
}

// Required reports whether a request must supply the parameter.
func (p Param) Required() bool {
	return !p.HasDefault
}

func (p Param) String() string {
	s := p.Name + " " + p.GoType
	if p.HasDefault {
		s += " = " + formatDefault(p.Default)
	}
	return s
}

func formatDefault(v any) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

// Source locates a remote function declaration.
type Source struct {
	File string
	Line int
}

func (s Source) String() string {
	if s.Line > 0 {
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	}
	return s.File
}

// Invoker calls a remote function. args[0] is the request page; the rest
// are canonical values in declaration order.
type Invoker func(args []any) (any, error)

// Descriptor is the immutable metadata of one remotely callable function.
type Descriptor struct {
	// Path is the canonical URL path of the route.
	Path string

	// Name is the declared function name.
	Name string

	// Source is where the function is declared.
	Source Source

	// Context is the name of the reserved first parameter.
	Context string

	// Params are the user parameters in declaration order.
	Params []Param

	// Invoke calls the function.
	Invoke Invoker
}

// Param returns the parameter with the given name.
func (d *Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Signature renders the declaration, e.g. "TestInterval(page, msg string = "No message")".
func (d *Descriptor) Signature() string {
	parts := make([]string, 0, len(d.Params)+1)
	if d.Context != "" {
		parts = append(parts, d.Context)
	}
	for _, p := range d.Params {
		parts = append(parts, p.String())
	}
	return d.Name + "(" + strings.Join(parts, ", ") + ")"
}
