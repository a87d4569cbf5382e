package render

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/routepath"
)

// ErrNotFound is returned when no servable file exists for a path.
var ErrNotFound = errors.New("render: not found")

// IndexFile is served for directory paths.
const IndexFile = "index.html"

// Output is a rendered file.
type Output struct {
	Body        []byte
	ContentType string
	ModTime     time.Time
}

// Renderer renders the file behind a URL path.
type Renderer interface {
	Render(ctx context.Context, urlPath string, params map[string]string) (*Output, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, urlPath string, params map[string]string) (*Output, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, urlPath string, params map[string]string) (*Output, error) {
	return f(ctx, urlPath, params)
}

// Data is the value HTML templates are executed with.
type Data struct {
	// Path is the requested URL path.
	Path string

	// Params are the request parameters.
	Params map[string]string

	// Routes lists the remote functions of the tree.
	Routes []*route.Descriptor
}

// Option configures a FileRenderer.
type Option func(*FileRenderer)

// WithHiddenSuffix hides files ending with suffix (the route-source suffix).
func WithHiddenSuffix(suffix string) Option {
	return func(r *FileRenderer) {
		if suffix != "" {
			r.hidden = append(r.hidden, suffix)
		}
	}
}

// WithTemplates enables or disables HTML template execution.
func WithTemplates(enabled bool) Option {
	return func(r *FileRenderer) { r.templates = enabled }
}

// WithRoutes supplies the route listing exposed to templates.
func WithRoutes(fn func() []*route.Descriptor) Option {
	return func(r *FileRenderer) { r.routes = fn }
}

// WithFuncs adds template functions.
func WithFuncs(funcs template.FuncMap) Option {
	return func(r *FileRenderer) {
		for k, v := range funcs {
			r.funcs[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *FileRenderer) {
		if l != nil {
			r.logger = l.With("component", "render")
		}
	}
}

// FileRenderer renders files under a root directory.
type FileRenderer struct {
	fsys      fs.FS
	hidden    []string
	templates bool
	routes    func() []*route.Descriptor
	funcs     template.FuncMap
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	modTime time.Time
	size    int64
	tmpl    *template.Template
}

// NewFileRenderer creates a renderer for the directory root.
func NewFileRenderer(root string, opts ...Option) *FileRenderer {
	return NewFSRenderer(os.DirFS(root), opts...)
}

// NewFSRenderer creates a renderer over an fs.FS.
func NewFSRenderer(fsys fs.FS, opts ...Option) *FileRenderer {
	r := &FileRenderer{
		fsys:      fsys,
		templates: true,
		funcs:     template.FuncMap{},
		logger:    slog.Default().With("component", "render"),
		cache:     make(map[string]cachedTemplate),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render serves the file behind urlPath. Directories serve IndexFile.
// Route sources and dot files are never served.
func (r *FileRenderer) Render(ctx context.Context, urlPath string, params map[string]string) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, ok := r.relPath(urlPath)
	if !ok {
		return nil, ErrNotFound
	}

	info, err := fs.Stat(r.fsys, rel)
	if err != nil {
		return nil, ErrNotFound
	}
	if info.IsDir() {
		rel = path.Join(rel, IndexFile)
		if info, err = fs.Stat(r.fsys, rel); err != nil || info.IsDir() {
			return nil, ErrNotFound
		}
	}

	ext := strings.ToLower(path.Ext(rel))
	if r.templates && (ext == ".html" || ext == ".htm") {
		body, err := r.execute(rel, info, Data{Path: urlPath, Params: params, Routes: r.routeList()})
		if err != nil {
			return nil, err
		}
		return &Output{Body: body, ContentType: "text/html; charset=utf-8", ModTime: info.ModTime()}, nil
	}

	body, err := fs.ReadFile(r.fsys, rel)
	if err != nil {
		return nil, ErrNotFound
	}
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}
	return &Output{Body: body, ContentType: ctype, ModTime: info.ModTime()}, nil
}

func (r *FileRenderer) routeList() []*route.Descriptor {
	if r.routes == nil {
		return nil
	}
	return r.routes()
}

func (r *FileRenderer) execute(rel string, info fs.FileInfo, data Data) ([]byte, error) {
	r.mu.RLock()
	cached, ok := r.cache[rel]
	r.mu.RUnlock()

	tmpl := cached.tmpl
	if !ok || !cached.modTime.Equal(info.ModTime()) || cached.size != info.Size() {
		src, err := fs.ReadFile(r.fsys, rel)
		if err != nil {
			return nil, ErrNotFound
		}
		tmpl, err = template.New(path.Base(rel)).Funcs(r.funcs).Parse(string(src))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[rel] = cachedTemplate{modTime: info.ModTime(), size: info.Size(), tmpl: tmpl}
		r.mu.Unlock()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		r.logger.Error("template execution failed", "file", rel, "error", err)
		return nil, err
	}
	return buf.Bytes(), nil
}

// relPath maps a URL path onto a slash-separated path inside the root.
// It rejects traversal and absolute-path tricks, dot files and hidden
// suffixes.
func (r *FileRenderer) relPath(urlPath string) (string, bool) {
	res, err := routepath.Clean(urlPath)
	if err != nil {
		return "", false
	}
	segs, err := routepath.Segments(res.Path)
	if err != nil {
		return "", false
	}
	if len(segs) == 0 {
		return ".", true
	}

	for _, seg := range segs {
		// Reject NUL, platform separators and dot segments after decoding.
		if seg == "" || strings.IndexByte(seg, 0) != -1 || strings.Contains(seg, "\\") {
			return "", false
		}
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	rel := strings.Join(segs, "/")
	if !fs.ValidPath(rel) {
		return "", false
	}
	base := segs[len(segs)-1]
	for _, suffix := range r.hidden {
		if strings.HasSuffix(base, suffix) {
			return "", false
		}
	}
	return rel, true
}
