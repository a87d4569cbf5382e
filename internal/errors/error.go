package errors

import (
	"bufio"
	"fmt"
	"os"
)

// Category represents the area an error comes from.
type Category string

const (
	CategoryDiscovery Category = "discovery"
	CategoryConfig    Category = "config"
	CategoryServer    Category = "server"
	CategoryCLI       Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	switch {
	case l.Line <= 0:
		return l.File
	case l.Column > 0:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Diagnostic is a structured error with a code, a source location and a
// hint on how to fix it.
type Diagnostic struct {
	// Code is a unique error identifier (e.g., "F001").
	Code string

	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation, usually the underlying error text.
	Detail string

	// Location is where the error occurred.
	Location *Location

	// Context holds the source lines around Location.
	Context []string

	// contextStart is the line number of Context[0].
	contextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	if d.Code != "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return d.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (d *Diagnostic) Unwrap() error {
	return d.Wrapped
}

// WithLocation adds a source location and reads the surrounding lines.
func (d *Diagnostic) WithLocation(file string, line, column int) *Diagnostic {
	d.Location = &Location{File: file, Line: line, Column: column}
	d.Context, d.contextStart = readContextLines(file, line, 5)
	return d
}

// WithSuggestion adds a fix suggestion.
func (d *Diagnostic) WithSuggestion(s string) *Diagnostic {
	d.Suggestion = s
	return d
}

// WithDetail adds a detailed explanation.
func (d *Diagnostic) WithDetail(detail string) *Diagnostic {
	d.Detail = detail
	return d
}

// Wrap wraps another error and uses its text as the detail when none is set.
func (d *Diagnostic) Wrap(err error) *Diagnostic {
	d.Wrapped = err
	if d.Detail == "" && err != nil {
		d.Detail = err.Error()
	}
	return d
}

// readContextLines reads up to size lines centred on target. It returns
// the lines and the number of the first one.
func readContextLines(filename string, target, size int) ([]string, int) {
	if target <= 0 {
		return nil, 0
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	start := max(target-size/2, 1)
	end := target + size/2

	var lines []string
	scanner := bufio.NewScanner(file)
	n := 0
	for scanner.Scan() {
		n++
		if n < start {
			continue
		}
		if n > end {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if n < target {
		return nil, 0
	}
	return lines, start
}

// New creates a Diagnostic from a registered code.
func New(code string) *Diagnostic {
	template, ok := registry[code]
	if !ok {
		return &Diagnostic{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Diagnostic{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a Diagnostic with a formatted message and no code.
func Newf(category Category, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a Diagnostic with the given code. A Diagnostic
// is returned unchanged.
func FromError(err error, code string) *Diagnostic {
	if err == nil {
		return nil
	}
	if d, ok := err.(*Diagnostic); ok {
		return d
	}
	return New(code).Wrap(err)
}
