package dispatch

import "github.com/filebase-dev/filebase/pkg/page"

// Middleware wraps the call of a remote function. next binds the
// arguments, invokes the function and encodes the result; its error is the
// typed dispatch failure.
type Middleware interface {
	Handle(p *page.Page, next func() error) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(p *page.Page, next func() error) error

// Handle calls f.
func (f MiddlewareFunc) Handle(p *page.Page, next func() error) error {
	return f(p, next)
}

// Compose runs mw in order around call.
func Compose(p *page.Page, mw []Middleware, call func() error) error {
	next := call
	for i := len(mw) - 1; i >= 0; i-- {
		m, inner := mw[i], next
		next = func() error { return m.Handle(p, inner) }
	}
	return next()
}

// Chain combines middleware into one.
func Chain(mw ...Middleware) Middleware {
	return MiddlewareFunc(func(p *page.Page, next func() error) error {
		return Compose(p, mw, next)
	})
}

// Skip bypasses m for calls matching cond.
func Skip(cond func(p *page.Page) bool, m Middleware) Middleware {
	return MiddlewareFunc(func(p *page.Page, next func() error) error {
		if cond(p) {
			return next()
		}
		return m.Handle(p, next)
	})
}

// Only applies m to calls matching cond.
func Only(cond func(p *page.Page) bool, m Middleware) Middleware {
	return Skip(func(p *page.Page) bool { return !cond(p) }, m)
}
