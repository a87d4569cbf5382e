package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filebase-dev/filebase/pkg/auth"
	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/route"
)

type user struct {
	Name   string
	Admin  bool
	Active bool
}

func newPage(header http.Header) *page.Page {
	return page.New(context.Background(), page.Options{Path: "/x", Header: header})
}

func withUser(u any) *page.Page {
	p := newPage(nil)
	p.SetUser(u)
	return p
}

func authorize(a dispatch.Authorizer, p *page.Page, path string) error {
	return a.Authorize(p, &route.Descriptor{Path: path})
}

func TestGetAndRequire(t *testing.T) {
	p := withUser(&user{Name: "ada"})

	u, ok := auth.Get[*user](p)
	require.True(t, ok)
	assert.Equal(t, "ada", u.Name)

	_, ok = auth.Get[user](p)
	assert.False(t, ok, "value and pointer types differ")

	_, err := auth.Require[*user](newPage(nil))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRequireAuth(t *testing.T) {
	assert.ErrorIs(t, authorize(auth.RequireAuth, newPage(nil), "/x"), auth.ErrUnauthorized)
	assert.NoError(t, authorize(auth.RequireAuth, withUser("ada"), "/x"))
}

func TestRequireRole(t *testing.T) {
	isAdmin := func(u *user) bool { return u.Admin }

	tests := []struct {
		name string
		page *page.Page
		want error
	}{
		{"anonymous", newPage(nil), auth.ErrUnauthorized},
		{"not admin", withUser(&user{}), auth.ErrForbidden},
		{"admin", withUser(&user{Admin: true}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorize(auth.RequireRole(isAdmin), tt.page, "/x")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := authorize(auth.RequirePermission(isAdmin), withUser(&user{Admin: true}), "/x")
	assert.NoError(t, err)
}

func TestRequireAnyAndAll(t *testing.T) {
	isAdmin := func(u *user) bool { return u.Admin }
	isActive := func(u *user) bool { return u.Active }
	active := withUser(&user{Active: true})

	assert.NoError(t, authorize(auth.RequireAny(isAdmin, isActive), active, "/x"))
	assert.ErrorIs(t, authorize(auth.RequireAll(isAdmin, isActive), active, "/x"), auth.ErrForbidden)
	assert.ErrorIs(t, authorize(auth.RequireAny(isAdmin), withUser(&user{}), "/x"), auth.ErrForbidden)
	assert.ErrorIs(t, authorize(auth.RequireAll[*user](), newPage(nil), "/x"), auth.ErrUnauthorized)
}

func TestAuthenticate(t *testing.T) {
	lookup := auth.Authenticate(func(p *page.Page) (*user, bool, error) {
		token, ok := auth.BearerToken(p)
		if !ok {
			return nil, false, nil
		}
		if token != "secret" {
			return nil, false, errors.New("unknown token")
		}
		return &user{Name: "ada"}, true, nil
	})

	anon := newPage(nil)
	require.NoError(t, authorize(lookup, anon, "/x"))
	assert.Nil(t, anon.User())

	p := newPage(http.Header{"Authorization": {"Bearer secret"}})
	require.NoError(t, authorize(lookup, p, "/x"))
	u, ok := auth.Get[*user](p)
	require.True(t, ok)
	assert.Equal(t, "ada", u.Name)

	err := authorize(lookup, newPage(http.Header{"Authorization": {"Bearer nope"}}), "/x")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Contains(t, err.Error(), "unknown token")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := auth.BearerToken(newPage(http.Header{"Authorization": {tt.header}}))
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestChainAndUnder(t *testing.T) {
	var calls []string
	record := func(name string) dispatch.Authorizer {
		return dispatch.AuthorizerFunc(func(*page.Page, *route.Descriptor) error {
			calls = append(calls, name)
			return nil
		})
	}
	a := auth.Chain(record("first"), auth.Under("/admin/", auth.RequireAuth), record("last"))

	require.NoError(t, authorize(a, newPage(nil), "/public/Test"))
	assert.Equal(t, []string{"first", "last"}, calls)

	calls = nil
	assert.ErrorIs(t, authorize(a, newPage(nil), "/admin/Users"), auth.ErrUnauthorized)
	assert.Equal(t, []string{"first"}, calls)

	assert.ErrorIs(t, authorize(a, newPage(nil), "/admin"), auth.ErrUnauthorized)
	assert.NoError(t, authorize(a, newPage(nil), "/administrators"))
}

func TestDispatchStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, dispatch.StatusOf(&dispatch.ForbiddenError{Path: "/x", Err: auth.ErrUnauthorized}))
	assert.Equal(t, http.StatusForbidden, dispatch.StatusOf(&dispatch.ForbiddenError{Path: "/x", Err: auth.ErrForbidden}))
}
