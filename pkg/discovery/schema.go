package discovery

import (
	"errors"
	"fmt"
	"go/ast"
	"go/scanner"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"github.com/filebase-dev/filebase/pkg/route"
)

// Directive marks a function as remotely callable. It must appear in the
// function's doc comment, optionally followed by name=literal defaults:
//
//	//filebase:remote msg="No message" limit=10 note=nil
const Directive = "//filebase:remote"

// Import paths whose Page type is accepted as the context parameter.
var pageImports = map[string]bool{
	"github.com/filebase-dev/filebase":          true,
	"github.com/filebase-dev/filebase/pkg/page": true,
}

type scalar struct {
	typ  route.Type
	bits int
}

var scalars = map[string]scalar{
	"int":     {route.TypeInt, strconv.IntSize},
	"int8":    {route.TypeInt, 8},
	"int16":   {route.TypeInt, 16},
	"int32":   {route.TypeInt, 32},
	"int64":   {route.TypeInt, 64},
	"float32": {route.TypeFloat, 32},
	"float64": {route.TypeFloat, 64},
	"bool":    {route.TypeBool, 0},
	"string":  {route.TypeString, 0},
}

// directiveArgs returns the text after the directive and whether the doc
// comment carries it.
func directiveArgs(doc *ast.CommentGroup) (string, bool, error) {
	if doc == nil {
		return "", false, nil
	}
	var (
		args  string
		found bool
	)
	for _, c := range doc.List {
		rest, ok := strings.CutPrefix(c.Text, Directive)
		if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		if found {
			return "", true, errors.New("directive repeated")
		}
		args, found = strings.TrimSpace(rest), true
	}
	return args, found, nil
}

// literal is one name=value pair of a directive.
type literal struct {
	name string
	tok  token.Token
	text string
}

// parseDefaults tokenizes "a=1 b=\"x\" c=-2.5 d=nil" with the Go scanner.
func parseDefaults(args string) ([]literal, error) {
	if args == "" {
		return nil, nil
	}

	var (
		s    scanner.Scanner
		errs scanner.ErrorList
	)
	fset := token.NewFileSet()
	file := fset.AddFile("directive", -1, len(args))
	s.Init(file, []byte(args), func(pos token.Position, msg string) { errs.Add(pos, msg) }, 0)

	next := func() (token.Token, string) {
		for {
			_, tok, lit := s.Scan()
			// The scanner inserts a semicolon at end of input.
			if tok == token.SEMICOLON && lit == "\n" {
				continue
			}
			return tok, lit
		}
	}

	var out []literal
	for {
		tok, name := next()
		if tok == token.EOF {
			break
		}
		if tok == token.COMMA {
			continue
		}
		if tok != token.IDENT {
			return nil, fmt.Errorf("expected parameter name, found %s", describe(tok, name))
		}
		if tok, lit := next(); tok != token.ASSIGN {
			return nil, fmt.Errorf("expected = after %s, found %s", name, describe(tok, lit))
		}

		tok, lit := next()
		neg := false
		if tok == token.SUB {
			neg = true
			tok, lit = next()
			if tok != token.INT && tok != token.FLOAT {
				return nil, fmt.Errorf("invalid default for %s: -%s", name, describe(tok, lit))
			}
		}
		switch tok {
		case token.INT, token.FLOAT, token.STRING, token.IDENT:
		default:
			return nil, fmt.Errorf("invalid default for %s: %s", name, describe(tok, lit))
		}
		if neg {
			lit = "-" + lit
		}
		out = append(out, literal{name: name, tok: tok, text: lit})
	}
	if errs.Len() > 0 {
		return nil, errs.Err()
	}
	return out, nil
}

func describe(tok token.Token, lit string) string {
	if lit != "" && lit != "\n" {
		return strconv.Quote(lit)
	}
	return tok.String()
}

// defaultValue converts a directive literal to the canonical value of p.
func defaultValue(p route.Param, lit literal) (any, error) {
	if lit.tok == token.IDENT && lit.text == "nil" {
		if !p.Nullable {
			return nil, fmt.Errorf("nil is not a valid %s; declare the parameter as *%s", p.GoType, p.GoType)
		}
		return nil, nil
	}

	switch p.Type {
	case route.TypeString:
		if lit.tok == token.STRING {
			return strconv.Unquote(lit.text)
		}
	case route.TypeInt:
		if lit.tok == token.INT {
			return strconv.ParseInt(lit.text, 0, p.Bits)
		}
	case route.TypeFloat:
		if lit.tok == token.INT || lit.tok == token.FLOAT {
			return strconv.ParseFloat(lit.text, p.Bits)
		}
	case route.TypeBool:
		if lit.tok == token.IDENT && (lit.text == "true" || lit.text == "false") {
			return lit.text == "true", nil
		}
	case route.TypeAny:
		switch lit.tok {
		case token.STRING:
			return strconv.Unquote(lit.text)
		case token.INT:
			return strconv.ParseInt(lit.text, 0, 64)
		case token.FLOAT:
			return strconv.ParseFloat(lit.text, 64)
		case token.IDENT:
			if lit.text == "true" || lit.text == "false" {
				return lit.text == "true", nil
			}
		}
	}
	return nil, fmt.Errorf("%s is not a valid %s", lit.text, p.GoType)
}

// paramType maps a parameter type expression onto the closed route type set.
func paramType(expr ast.Expr) (route.Param, bool) {
	p := route.Param{GoType: types.ExprString(expr)}

	switch t := expr.(type) {
	case *ast.Ident:
		if t.Name == "any" {
			p.Type, p.Nullable = route.TypeAny, true
			return p, true
		}
		if s, ok := scalars[t.Name]; ok {
			p.Type, p.Bits = s.typ, s.bits
			return p, true
		}
	case *ast.InterfaceType:
		if t.Methods == nil || len(t.Methods.List) == 0 {
			p.Type, p.Nullable = route.TypeAny, true
			return p, true
		}
	case *ast.StarExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			if s, ok := scalars[id.Name]; ok {
				p.Type, p.Bits, p.Nullable = s.typ, s.bits, true
				return p, true
			}
		}
	}
	return p, false
}

// pageQualifiers returns the local names under which the file imports a
// package exporting Page.
func pageQualifiers(f *ast.File) map[string]bool {
	names := make(map[string]bool)
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !pageImports[path] {
			continue
		}
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		names[name] = true
	}
	return names
}

// isPagePointer reports whether expr is *q.Page for an accepted qualifier q.
func isPagePointer(expr ast.Expr, qualifiers map[string]bool) bool {
	star, ok := expr.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Page" {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && qualifiers[pkg.Name]
}
