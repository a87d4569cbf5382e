package render

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":          {Data: []byte(`<h1>{{.Path}}</h1>{{range .Routes}}<li>{{.Path}}</li>{{end}}`)},
		"hello.html":          {Data: []byte(`Hello {{index .Params "name"}}`)},
		"style.css":           {Data: []byte(`body{}`)},
		"data.bin":            {Data: []byte{0x00, 0x01, 0x02}},
		"index.code.go":       {Data: []byte(`package public`)},
		".env":                {Data: []byte(`SECRET=1`)},
		"docs/index.html":     {Data: []byte(`docs`)},
		"docs/read me.txt":    {Data: []byte(`spaces`)},
		"empty/placeholder":   {Data: []byte(``)},
		"broken.html":         {Data: []byte(`{{ .Nope `)},
		"escape.html":         {Data: []byte(`{{index .Params "x"}}`)},
		".git/config":         {Data: []byte(`[core]`)},
		"api/users.code.go":   {Data: []byte(`package api`)},
		"api/users.json":      {Data: []byte(`[]`)},
		"raw/page.html":       {Data: []byte(`{{.Path}}`)},
		"nested/deep/a.svg":   {Data: []byte(`<svg/>`)},
		"nested/deep/b.unkwn": {Data: []byte(`plain text here`)},
	}
}

func newRenderer(opts ...Option) *FileRenderer {
	routes := []*route.Descriptor{{Path: "/Test"}, {Path: "/api/List"}}
	opts = append([]Option{
		WithHiddenSuffix(".code.go"),
		WithRoutes(func() []*route.Descriptor { return routes }),
	}, opts...)
	return NewFSRenderer(testFS(), opts...)
}

func TestRenderTemplates(t *testing.T) {
	r := newRenderer()
	ctx := context.Background()

	out, err := r.Render(ctx, "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", out.ContentType)
	assert.Equal(t, "<h1>/</h1><li>/Test</li><li>/api/List</li>", string(out.Body))

	out, err = r.Render(ctx, "/hello.html", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", string(out.Body))

	out, err = r.Render(ctx, "/escape.html", map[string]string{"x": "<script>"})
	require.NoError(t, err)
	assert.Equal(t, "&lt;script&gt;", string(out.Body))

	out, err = r.Render(ctx, "/docs", nil)
	require.NoError(t, err)
	assert.Equal(t, "docs", string(out.Body))
}

func TestRenderTemplatesDisabled(t *testing.T) {
	r := newRenderer(WithTemplates(false))
	out, err := r.Render(context.Background(), "/raw/page.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "{{.Path}}", string(out.Body))
	assert.Contains(t, out.ContentType, "text/html")
}

func TestRenderStatic(t *testing.T) {
	r := newRenderer()
	ctx := context.Background()

	out, err := r.Render(ctx, "/style.css", nil)
	require.NoError(t, err)
	assert.Contains(t, out.ContentType, "text/css")
	assert.Equal(t, "body{}", string(out.Body))

	out, err = r.Render(ctx, "/docs/read%20me.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "spaces", string(out.Body))

	out, err = r.Render(ctx, "/api/users.json", nil)
	require.NoError(t, err)
	assert.Contains(t, out.ContentType, "json")

	out, err = r.Render(ctx, "/nested/deep/b.unkwn", nil)
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", out.ContentType)
}

func TestRenderNeverServesHidden(t *testing.T) {
	r := newRenderer()
	for _, p := range []string{
		"/index.code.go",
		"/api/users.code.go",
		"/.env",
		"/.git/config",
		"/%2eenv",
		"/../index.html",
		"/docs/..%2f..%2fetc/passwd",
		"/missing.html",
		"/empty",
		`/a\b`,
	} {
		_, err := r.Render(context.Background(), p, nil)
		assert.True(t, errors.Is(err, ErrNotFound), "%s: %v", p, err)
	}
}

func TestRenderTemplateError(t *testing.T) {
	_, err := newRenderer().Render(context.Background(), "/broken.html", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRenderTemplateCacheRefresh(t *testing.T) {
	fsys := fstest.MapFS{"t.html": {Data: []byte(`one`), ModTime: time.Unix(1, 0)}}
	r := NewFSRenderer(fsys)

	out, err := r.Render(context.Background(), "/t.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", string(out.Body))

	fsys["t.html"] = &fstest.MapFile{Data: []byte(`two!`), ModTime: time.Unix(2, 0)}
	out, err = r.Render(context.Background(), "/t.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "two!", string(out.Body))
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRenderer().Render(ctx, "/", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRendererFunc(t *testing.T) {
	var r Renderer = RendererFunc(func(ctx context.Context, urlPath string, params map[string]string) (*Output, error) {
		return &Output{Body: []byte(urlPath)}, nil
	})
	out, err := r.Render(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, "/x", string(out.Body))
}
