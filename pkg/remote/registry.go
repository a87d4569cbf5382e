package remote

import (
	"errors"
	"fmt"
	"go/token"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/filebase-dev/filebase/pkg/page"
)

// Registration errors.
var (
	ErrNotFunc       = errors.New("remote: value is not a function")
	ErrAnonymous     = errors.New("remote: closures and method values cannot be registered")
	ErrSignature     = errors.New("remote: invalid signature")
	ErrConflict      = errors.New("remote: a different function is already registered for this name")
	ErrNotRegistered = errors.New("remote: function is not registered")
	ErrAmbiguous     = errors.New("remote: function matches more than one registration")
)

var (
	pageType  = reflect.TypeOf((*page.Page)(nil))
	errorType = reflect.TypeOf((*error)(nil)).Elem()

	// Compiler generated names for closures ("main.init.func1", "pkg.F.func2.1")
	// and bound methods ("pkg.(*T).M-fm").
	closureName = regexp.MustCompile(`\.func\d+(\.\d+)*$`)
)

// Func is a registered remote function.
type Func struct {
	// Name is the declared function name.
	Name string

	// Qualified is the linker name, e.g. "example.com/app/public.Test".
	Qualified string

	// File is the source file the compiler recorded for the function.
	File string

	// Line is the line of the function entry.
	Line int

	value reflect.Value
}

// Type returns the function type.
func (f *Func) Type() reflect.Type {
	return f.value.Type()
}

func (f *Func) String() string {
	return fmt.Sprintf("%s (%s:%d)", f.Qualified, f.File, f.Line)
}

type key struct {
	file string
	name string
}

// Registry holds the callables available to discovery. It is safe for
// concurrent use; registration normally happens from package init.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[key]*Func
	byName map[string][]*Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:  make(map[key]*Func),
		byName: make(map[string][]*Func),
	}
}

// Default is the registry used by filebase.Remote and by discovery unless
// another registry is configured.
var Default = NewRegistry()

// Register adds top-level functions, naming each after its declaration and
// the source file the compiler recorded for it.
func (r *Registry) Register(fns ...any) error {
	for _, fn := range fns {
		v := reflect.ValueOf(fn)
		if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
			return fmt.Errorf("%w: %T", ErrNotFunc, fn)
		}

		rf := runtime.FuncForPC(v.Pointer())
		if rf == nil {
			return fmt.Errorf("%w: no symbol information for %T", ErrNotFunc, fn)
		}
		qualified := rf.Name()
		name, err := shortName(qualified)
		if err != nil {
			return err
		}
		file, line := rf.FileLine(rf.Entry())

		if err := r.add(&Func{
			Name:      name,
			Qualified: qualified,
			File:      file,
			Line:      line,
			value:     v,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Bind registers fn under an explicit file and name. Use it when the
// compiled file paths do not match the deployed tree (for example binaries
// built with -trimpath).
func (r *Registry) Bind(file, name string, fn any) error {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	if !token.IsIdentifier(name) {
		return fmt.Errorf("%w: %q is not an identifier", ErrSignature, name)
	}
	qualified := name
	if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
		qualified = rf.Name()
	}
	return r.add(&Func{
		Name:      name,
		Qualified: qualified,
		File:      filepath.Clean(file),
		value:     v,
	})
}

func (r *Registry) add(f *Func) error {
	if err := checkType(f.value.Type()); err != nil {
		return fmt.Errorf("%s: %w", f.Qualified, err)
	}

	k := key{file: f.File, name: f.Name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.funcs[k]; ok {
		if existing.value.Pointer() == f.value.Pointer() {
			return nil
		}
		return fmt.Errorf("%w: %s in %s", ErrConflict, f.Name, f.File)
	}
	r.funcs[k] = f
	r.byName[f.Name] = append(r.byName[f.Name], f)
	return nil
}

// Lookup finds the function declared as name in a route-source file.
// abs is the absolute path of the file and rel its path relative to the
// scanned root. An exact match on abs wins; otherwise a registration whose
// recorded file ends with rel is accepted if it is the only one.
func (r *Registry) Lookup(abs, rel, name string) (*Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.byName[name]
	for _, f := range candidates {
		if f.File == abs {
			return f, nil
		}
	}

	rel = filepath.ToSlash(rel)
	var matches []*Func
	for _, f := range candidates {
		file := filepath.ToSlash(f.File)
		if file == rel || strings.HasSuffix(file, "/"+rel) {
			matches = append(matches, f)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s in %s", ErrNotRegistered, name, rel)
	case 1:
		return matches[0], nil
	default:
		files := make([]string, len(matches))
		for i, m := range matches {
			files[i] = m.File
		}
		sort.Strings(files)
		return nil, fmt.Errorf("%w: %s in %s", ErrAmbiguous, name, strings.Join(files, ", "))
	}
}

// Funcs returns every registration ordered by file then name.
func (r *Registry) Funcs() []*Func {
	r.mu.RLock()
	out := make([]*Func, 0, len(r.funcs))
	for _, f := range r.funcs {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Register adds fns to the Default registry.
func Register(fns ...any) error {
	return Default.Register(fns...)
}

// MustRegister is like Register but panics on error. It is intended for
// package init, where a bad registration is a programming error.
func MustRegister(fns ...any) {
	if err := Default.Register(fns...); err != nil {
		panic(err)
	}
}

// shortName extracts the declared name from a linker symbol.
func shortName(qualified string) (string, error) {
	if strings.HasSuffix(qualified, "-fm") || closureName.MatchString(qualified) {
		return "", fmt.Errorf("%w: %s", ErrAnonymous, qualified)
	}
	base := qualified
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrAnonymous, qualified)
	}
	name := base[i+1:]
	// Methods (pkg.T.M, pkg.(*T).M) leave a type segment behind.
	if strings.Contains(base[:i], ".") || !token.IsIdentifier(name) {
		return "", fmt.Errorf("%w: %s", ErrAnonymous, qualified)
	}
	return name, nil
}
