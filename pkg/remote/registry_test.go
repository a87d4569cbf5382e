package remote

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Echo(p *page.Page, msg string) string { return msg }

func Sum(p *page.Page, a int32, b *float64) (map[string]any, error) {
	out := map[string]any{"a": a}
	if b != nil {
		out["b"] = *b
	}
	return out, nil
}

func Fail(p *page.Page) error { return errors.New("boom") }

func Nothing(p *page.Page) {}

func Anything(p *page.Page, v any) any { return v }

func badFirst(msg string) string { return msg }
func badVariadic(p *page.Page, xs ...string) {}
func badType(p *page.Page, xs []string) {}
func badResults(p *page.Page) (int, int) { return 0, 0 }
func badSecond(p *page.Page) (int, string) { return 0, "" }
func badIface(p *page.Page, s fmt.Stringer) {}
func badPtrIface(p *page.Page, s *any) {}
func otherEcho(p *page.Page, msg string) string { return msg + "!" }

func thisFile(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return file
}

func TestRegisterRecordsNameAndFile(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Echo, Sum))

	f, err := r.Lookup(thisFile(t), "registry_test.go", "Echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo", f.Name)
	assert.Contains(t, f.Qualified, "remote.Echo")
	assert.Equal(t, thisFile(t), f.File)
	assert.Positive(t, f.Line)

	f, err = r.Lookup("/elsewhere/registry_test.go", "pkg/remote/registry_test.go", "Sum")
	require.NoError(t, err, "suffix match on the relative path")
	assert.Equal(t, "Sum", f.Name)

	assert.Len(t, r.Funcs(), 2)
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Echo))
	require.NoError(t, r.Register(Echo))
	assert.Len(t, r.Funcs(), 1)
}

func TestRegisterConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Register(Echo, Sum, Fail))
		}()
	}
	wg.Wait()
	assert.Len(t, r.Funcs(), 3)
}

func TestBindConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Bind("public/index.code.go", "Echo", Echo))
	require.NoError(t, r.Bind("public/index.code.go", "Echo", Echo))

	err := r.Bind("public/index.code.go", "Echo", otherEcho)
	assert.ErrorIs(t, err, ErrConflict)

	f, err := r.Lookup("/srv/app/public/index.code.go", "public/index.code.go", "Echo")
	require.NoError(t, err)
	assert.Equal(t, "public/index.code.go", f.File)

	assert.ErrorIs(t, r.Bind("x.code.go", "not an ident", Echo), ErrSignature)
}

func TestLookupErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Bind("/a/public/index.code.go", "Echo", Echo))
	require.NoError(t, r.Bind("/b/public/index.code.go", "Echo", otherEcho))

	_, err := r.Lookup("/c/public/index.code.go", "public/index.code.go", "Echo")
	assert.ErrorIs(t, err, ErrAmbiguous)

	f, err := r.Lookup("/b/public/index.code.go", "public/index.code.go", "Echo")
	require.NoError(t, err, "exact match wins over suffix matches")
	assert.Equal(t, "/b/public/index.code.go", f.File)

	_, err = r.Lookup("/a/public/index.code.go", "public/index.code.go", "Missing")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterRejects(t *testing.T) {
	closure := func(p *page.Page) {}
	var nilFn func(p *page.Page)

	tests := []struct {
		name string
		fn   any
		want error
	}{
		{"not a func", 42, ErrNotFunc},
		{"nil func", nilFn, ErrNotFunc},
		{"nil", nil, ErrNotFunc},
		{"closure", closure, ErrAnonymous},
		{"first param", badFirst, ErrSignature},
		{"variadic", badVariadic, ErrSignature},
		{"slice param", badType, ErrSignature},
		{"two non-error results", badResults, ErrSignature},
		{"second result", badSecond, ErrSignature},
		{"non-empty interface", badIface, ErrSignature},
		{"pointer to interface", badPtrIface, ErrSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			assert.ErrorIs(t, r.Register(tt.fn), tt.want)
			assert.Empty(t, r.Funcs())
		})
	}
}

func TestShortName(t *testing.T) {
	name, err := shortName("github.com/acme/app/public.TestInterval")
	require.NoError(t, err)
	assert.Equal(t, "TestInterval", name)

	for _, bad := range []string{
		"main.init.func1",
		"main.Handler.func2.1",
		"main.(*Server).Handle",
		"main.Server.Handle-fm",
		"main.Generic[...]",
		"noDot",
	} {
		_, err := shortName(bad)
		assert.ErrorIs(t, err, ErrAnonymous, bad)
	}
}

func lookupFunc(t *testing.T, r *Registry, name string) *Func {
	t.Helper()
	f, err := r.Lookup(thisFile(t), "registry_test.go", name)
	require.NoError(t, err)
	return f
}

func TestCheck(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Sum))
	f := lookupFunc(t, r, "Sum")

	ok := []route.Param{
		{Name: "a", Type: route.TypeInt, GoType: "int32", Bits: 32},
		{Name: "b", Type: route.TypeFloat, GoType: "*float64", Bits: 64, Nullable: true},
	}
	assert.NoError(t, f.Check(ok))

	assert.ErrorIs(t, f.Check(ok[:1]), ErrSignature)

	wrong := []route.Param{ok[0], {Name: "b", Type: route.TypeFloat, GoType: "float64", Bits: 64}}
	assert.ErrorIs(t, f.Check(wrong), ErrSignature)
}

func TestInvoker(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Echo, Sum, Fail, Nothing, Anything))
	p := page.New(context.Background(), page.Options{})

	out, err := lookupFunc(t, r, "Echo").Invoker()([]any{p, "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = lookupFunc(t, r, "Sum").Invoker()([]any{p, int64(7), 2.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int32(7), "b": 2.5}, out)

	out, err = lookupFunc(t, r, "Sum").Invoker()([]any{p, int64(7), nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int32(7)}, out)

	_, err = lookupFunc(t, r, "Sum").Invoker()([]any{p, int64(1) << 40, nil})
	assert.Error(t, err, "overflow is refused")

	out, err = lookupFunc(t, r, "Fail").Invoker()([]any{p})
	assert.Nil(t, out)
	assert.EqualError(t, err, "boom")

	out, err = lookupFunc(t, r, "Nothing").Invoker()([]any{p})
	assert.NoError(t, err)
	assert.Nil(t, out)

	out, err = lookupFunc(t, r, "Anything").Invoker()([]any{p, map[string]any{"k": true}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": true}, out)

	out, err = lookupFunc(t, r, "Anything").Invoker()([]any{p, nil})
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = lookupFunc(t, r, "Echo").Invoker()([]any{p})
	assert.ErrorIs(t, err, ErrSignature)
}
