// Package auth builds Authorizers that guard remote functions.
//
// An Authenticate step resolves the caller from the request and records
// it on the page; the Require rules then check it:
//
//	authz := auth.Chain(
//	    auth.Authenticate(func(p *page.Page) (*User, bool, error) {
//	        token, ok := auth.BearerToken(p)
//	        if !ok {
//	            return nil, false, nil
//	        }
//	        u, err := users.ByToken(token)
//	        return u, err == nil, err
//	    }),
//	    auth.Under("/admin", auth.RequireRole(func(u *User) bool { return u.Admin })),
//	)
//
// Rules return ErrUnauthorized (401) when no user is present and
// ErrForbidden (403) when the user fails a check.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/route"
)

var (
	// ErrUnauthorized is returned when a rule needs a user and the page has none.
	ErrUnauthorized = dispatch.ErrUnauthenticated

	// ErrForbidden is returned when the user fails a check.
	ErrForbidden = errors.New("auth: insufficient permissions")
)

// Get returns the page's user as a T.
//
// A user stored as a value is not found by Get[*T], and the reverse.
func Get[T any](p *page.Page) (T, bool) {
	user, ok := p.User().(T)
	return user, ok
}

// Require returns the page's user or ErrUnauthorized. Remote functions
// use it to check a user themselves.
func Require[T any](p *page.Page) (T, error) {
	user, ok := Get[T](p)
	if !ok {
		return user, ErrUnauthorized
	}
	return user, nil
}

// Authenticate resolves the caller with fn and records it as the page
// user. When fn reports no credentials the call continues anonymously,
// so later rules decide whether a user is needed. An error from fn
// refuses the call with 401.
func Authenticate[T any](fn func(p *page.Page) (T, bool, error)) dispatch.Authorizer {
	return dispatch.AuthorizerFunc(func(p *page.Page, _ *route.Descriptor) error {
		user, ok, err := fn(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if ok {
			p.SetUser(user)
		}
		return nil
	})
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(p *page.Page) (string, bool) {
	scheme, token, ok := strings.Cut(p.Header("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth refuses anonymous calls.
var RequireAuth dispatch.Authorizer = dispatch.AuthorizerFunc(
	func(p *page.Page, _ *route.Descriptor) error {
		if p.User() == nil {
			return ErrUnauthorized
		}
		return nil
	},
)

// RequireRole refuses calls whose user fails check.
//
//	auth.RequireRole(func(u *User) bool { return u.Role == "admin" })
func RequireRole[T any](check func(T) bool) dispatch.Authorizer {
	return RequireAll(check)
}

// RequirePermission is RequireRole for permission checks.
//
//	auth.RequirePermission(func(u *User) bool { return u.Can("users.delete") })
func RequirePermission[T any](check func(T) bool) dispatch.Authorizer {
	return RequireAll(check)
}

// RequireAny refuses calls whose user passes none of the checks.
func RequireAny[T any](checks ...func(T) bool) dispatch.Authorizer {
	return dispatch.AuthorizerFunc(func(p *page.Page, _ *route.Descriptor) error {
		user, err := Require[T](p)
		if err != nil {
			return err
		}
		for _, check := range checks {
			if check(user) {
				return nil
			}
		}
		return ErrForbidden
	})
}

// RequireAll refuses calls whose user fails any of the checks.
func RequireAll[T any](checks ...func(T) bool) dispatch.Authorizer {
	return dispatch.AuthorizerFunc(func(p *page.Page, _ *route.Descriptor) error {
		user, err := Require[T](p)
		if err != nil {
			return err
		}
		for _, check := range checks {
			if !check(user) {
				return ErrForbidden
			}
		}
		return nil
	})
}

// Chain runs authorizers in order and stops at the first refusal.
func Chain(authorizers ...dispatch.Authorizer) dispatch.Authorizer {
	return dispatch.AuthorizerFunc(func(p *page.Page, d *route.Descriptor) error {
		for _, a := range authorizers {
			if err := a.Authorize(p, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// Under applies a only to the routes at prefix or below it. The prefix
// matches whole segments: "/admin" covers /admin and /admin/Users but
// not /administrators.
func Under(prefix string, a dispatch.Authorizer) dispatch.Authorizer {
	prefix = strings.TrimSuffix(prefix, "/")
	return dispatch.AuthorizerFunc(func(p *page.Page, d *route.Descriptor) error {
		if prefix == "" || d.Path == prefix || strings.HasPrefix(d.Path, prefix+"/") {
			return a.Authorize(p, d)
		}
		return nil
	})
}
