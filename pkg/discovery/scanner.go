package discovery

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/routepath"
)

// Defaults for Scanner options.
const (
	DefaultSuffix       = ".code.go"
	DefaultIndexName    = "Index"
	DefaultContextParam = "page"
)

// Decl is a remote function declared in a route-source file.
type Decl struct {
	// Path is the derived route path.
	Path string

	// Name is the function name.
	Name string

	// File is the absolute path of the route-source file.
	File string

	// Rel is File relative to the scanned root, slash separated.
	Rel string

	Line   int
	Column int

	// Context is the declared name of the page parameter.
	Context string

	// Params are the user parameters in declaration order.
	Params []route.Param
}

// Source returns the declaration location relative to the root.
func (d *Decl) Source() route.Source {
	return route.Source{File: d.Rel, Line: d.Line}
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSuffix sets the route-source file suffix.
func WithSuffix(suffix string) Option {
	return func(s *Scanner) {
		if suffix != "" {
			s.suffix = suffix
		}
	}
}

// WithIndexName sets the function name that maps to its directory path.
func WithIndexName(name string) Option {
	return func(s *Scanner) {
		if name != "" {
			s.indexName = name
		}
	}
}

// WithContextParam sets the reserved parameter name.
func WithContextParam(name string) Option {
	return func(s *Scanner) {
		if name != "" {
			s.contextParam = name
		}
	}
}

// WithRegistry sets the registry callables are resolved from.
func WithRegistry(r *remote.Registry) Option {
	return func(s *Scanner) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l.With("component", "discovery")
		}
	}
}

// Scanner discovers remote functions under a root directory.
// A Scanner holds no per-scan state, so Scan and Build may be called
// repeatedly and concurrently.
type Scanner struct {
	root         string
	suffix       string
	indexName    string
	contextParam string
	registry     *remote.Registry
	logger       *slog.Logger
}

// NewScanner creates a scanner for root.
func NewScanner(root string, opts ...Option) *Scanner {
	s := &Scanner{
		root:         root,
		suffix:       DefaultSuffix,
		indexName:    DefaultIndexName,
		contextParam: DefaultContextParam,
		registry:     remote.Default,
		logger:       slog.Default().With("component", "discovery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if abs, err := filepath.Abs(root); err == nil {
		s.root = abs
	}
	return s
}

// Root returns the absolute root directory.
func (s *Scanner) Root() string { return s.root }

// Suffix returns the route-source suffix.
func (s *Scanner) Suffix() string { return s.suffix }

// Scan parses every route-source file and returns the tagged functions
// ordered by file and position. No callables are needed. Any failure,
// including two functions deriving the same path, is reported as Errors.
func (s *Scanner) Scan() ([]*Decl, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, Errors{{Kind: KindLoad, File: s.root, Err: err}}
	}
	if !info.IsDir() {
		return nil, Errors{{Kind: KindLoad, File: s.root, Err: errors.New("root is not a directory")}}
	}

	var (
		decls []*Decl
		errs  Errors
	)
	fset := token.NewFileSet()

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, &Error{Kind: KindLoad, File: path, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != s.root && (strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.suffix) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			s.logger.Warn("skipping symlinked route source", "file", path)
			return nil
		}

		found, fileErrs := s.scanFile(fset, path)
		decls = append(decls, found...)
		errs = append(errs, fileErrs...)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, &Error{Kind: KindLoad, File: s.root, Err: walkErr})
	}

	for _, dup := range findDuplicates(decls) {
		errs = append(errs, dup)
	}

	if len(errs) > 0 {
		errs.sort()
		return nil, errs
	}
	return decls, nil
}

func findDuplicates(decls []*Decl) Errors {
	byPath := make(map[string][]*Decl)
	var order []string
	for _, d := range decls {
		if _, ok := byPath[d.Path]; !ok {
			order = append(order, d.Path)
		}
		byPath[d.Path] = append(byPath[d.Path], d)
	}

	var errs Errors
	for _, path := range order {
		group := byPath[path]
		if len(group) < 2 {
			continue
		}
		others := make([]string, 0, len(group)-1)
		for _, d := range group[1:] {
			others = append(others, fmt.Sprintf("%s (%s:%d)", d.Name, d.Rel, d.Line))
		}
		first := group[0]
		errs = append(errs, &Error{
			Kind:   KindDuplicatePath,
			File:   first.File,
			Line:   first.Line,
			Column: first.Column,
			Func:   first.Name,
			Path:   path,
			Err:    fmt.Errorf("%s is also derived by %s", path, strings.Join(others, ", ")),
		})
	}
	return errs
}

// scanFile parses one route-source file in isolation.
func (s *Scanner) scanFile(fset *token.FileSet, path string) ([]*Decl, Errors) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, Errors{{Kind: KindLoad, File: path, Err: err}}
	}

	f, err := parser.ParseFile(fset, path, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		e := &Error{Kind: KindLoad, File: path, Err: err}
		var list scanner.ErrorList
		if errors.As(err, &list) && len(list) > 0 {
			e.Line, e.Column = list[0].Pos.Line, list[0].Pos.Column
			e.Err = errors.New(list[0].Msg)
		}
		return nil, Errors{e}
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return nil, Errors{{Kind: KindLoad, File: path, Err: err}}
	}
	rel = filepath.ToSlash(rel)

	dirSegs, segErr := s.dirSegments(rel)
	qualifiers := pageQualifiers(f)

	var (
		decls []*Decl
		errs  Errors
	)
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		args, tagged, err := directiveArgs(fd.Doc)
		pos := fset.Position(fd.Name.Pos())
		fail := func(kind Kind, err error) {
			errs = append(errs, &Error{
				Kind: kind, File: path, Line: pos.Line, Column: pos.Column, Func: fd.Name.Name, Err: err,
			})
		}
		if !tagged {
			continue
		}
		if err != nil {
			fail(KindDirective, err)
			continue
		}
		if segErr != nil {
			fail(KindPathSegment, segErr)
			continue
		}

		d := &Decl{
			Name:   fd.Name.Name,
			File:   path,
			Rel:    rel,
			Line:   pos.Line,
			Column: pos.Column,
		}
		if kind, err := s.signature(fd, qualifiers, args, d); err != nil {
			fail(kind, err)
			continue
		}
		if d.Path, err = s.derivePath(dirSegs, d.Name); err != nil {
			fail(KindPathSegment, err)
			continue
		}
		decls = append(decls, d)
	}
	return decls, errs
}

// signature fills d.Context and d.Params from the declaration.
func (s *Scanner) signature(fd *ast.FuncDecl, qualifiers map[string]bool, args string, d *Decl) (Kind, error) {
	if fd.Recv != nil {
		return KindSignature, errors.New("methods cannot be remote functions")
	}
	if fd.Type.TypeParams != nil && len(fd.Type.TypeParams.List) > 0 {
		return KindSignature, errors.New("generic functions cannot be remote functions")
	}

	fields := fd.Type.Params.List
	if len(fields) == 0 || !isPagePointer(fields[0].Type, qualifiers) {
		return KindSignature, errors.New("first parameter must be *filebase.Page")
	}

	first := true
	for _, field := range fields {
		if len(field.Names) == 0 {
			return KindSignature, errors.New("parameters must be named")
		}
		if _, ok := field.Type.(*ast.Ellipsis); ok {
			return KindSignature, errors.New("variadic parameters are not supported")
		}
		for _, id := range field.Names {
			if first {
				d.Context = id.Name
				first = false
				continue
			}
			if id.Name == "_" {
				return KindSignature, errors.New("parameters must be named")
			}
			if id.Name == s.contextParam {
				return KindReservedName, fmt.Errorf("parameter %q uses the reserved context name", id.Name)
			}
			if isPagePointer(field.Type, qualifiers) {
				return KindSignature, fmt.Errorf("parameter %s: only the first parameter may be a page", id.Name)
			}
			p, ok := paramType(field.Type)
			if !ok {
				return KindUnsupportedType, fmt.Errorf("parameter %s has type %s; supported types are int, float, bool, string, any and pointers to them", id.Name, p.GoType)
			}
			p.Name = id.Name
			d.Params = append(d.Params, p)
		}
	}
	if d.Context == "" {
		return KindSignature, errors.New("first parameter must be named")
	}

	if res := fd.Type.Results; res != nil {
		n := res.NumFields()
		if n > 2 {
			return KindSignature, errors.New("at most two results are allowed")
		}
		if n == 2 {
			last := res.List[len(res.List)-1]
			if id, ok := last.Type.(*ast.Ident); !ok || id.Name != "error" {
				return KindSignature, errors.New("second result must be error")
			}
		}
	}

	lits, err := parseDefaults(args)
	if err != nil {
		return KindDirective, err
	}
	seen := make(map[string]bool, len(lits))
	for _, lit := range lits {
		if lit.name == s.contextParam || lit.name == d.Context {
			return KindReservedName, fmt.Errorf("default given for the reserved context parameter %q", lit.name)
		}
		if seen[lit.name] {
			return KindDefault, fmt.Errorf("default for %s given twice", lit.name)
		}
		seen[lit.name] = true

		idx := -1
		for i := range d.Params {
			if d.Params[i].Name == lit.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return KindDefault, fmt.Errorf("default for undeclared parameter %s", lit.name)
		}
		v, err := defaultValue(d.Params[idx], lit)
		if err != nil {
			return KindDefault, fmt.Errorf("parameter %s: %w", lit.name, err)
		}
		d.Params[idx].HasDefault = true
		d.Params[idx].Default = v
	}
	return "", nil
}

// dirSegments validates the directory part of a relative file path.
func (s *Scanner) dirSegments(rel string) ([]string, error) {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(rel)))
	if dir == "." {
		return nil, nil
	}
	segs := strings.Split(dir, "/")
	for _, seg := range segs {
		if err := routepath.ValidateSegment(seg); err != nil {
			return nil, fmt.Errorf("directory %q: %w", seg, err)
		}
	}
	return segs, nil
}

// derivePath joins the directory segments with the function name, or uses
// the directory alone for the index function.
func (s *Scanner) derivePath(dirSegs []string, name string) (string, error) {
	segs := dirSegs
	if name != s.indexName {
		if err := routepath.ValidateSegment(name); err != nil {
			return "", fmt.Errorf("function name %q: %w", name, err)
		}
		segs = append(append([]string(nil), dirSegs...), name)
	}
	path := routepath.Join(segs...)

	res, err := routepath.Clean(path)
	if err != nil {
		return "", err
	}
	if res.Changed {
		return "", fmt.Errorf("%s is not canonical", path)
	}
	return path, nil
}
