package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/routepath"
)

// allowedMethods may invoke remote functions.
const allowedMethods = "GET, HEAD, POST"

// ServeHTTP adapts Handle to net/http. Non-canonical paths are redirected
// with 308 so that POST bodies survive the redirect.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawPath := r.URL.EscapedPath()
	input := rawPath
	if r.URL.RawQuery != "" {
		input += "?" + r.URL.RawQuery
	}
	canon, err := routepath.Clean(input)
	if err != nil {
		d.write(w, r, d.fail(fmt.Errorf("%w: %s", err, rawPath), rawPath))
		return
	}
	if canon.Changed {
		http.Redirect(w, r, canon.String(), http.StatusPermanentRedirect)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		w.Header().Set("Allow", allowedMethods)
		d.write(w, r, d.fail(fmt.Errorf("%w: %s", ErrMethodNotAllowed, r.Method), canon.Path))
		return
	}

	params, err := d.requestParams(w, r)
	if err != nil {
		d.write(w, r, d.fail(err, canon.Path))
		return
	}

	resp := d.Handle(r.Context(), &Request{
		ID:         d.requestID(r),
		Method:     r.Method,
		Path:       canon.Path,
		Params:     params,
		Header:     r.Header,
		ClientIP:   ClientIP(r, d.proxies),
		RemoteAddr: r.RemoteAddr,
		Transport:  page.TransportHTTP,
	})
	d.write(w, r, resp)
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, resp *Response) {
	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = append([]string(nil), vs...)
	}
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	if resp.Status == http.StatusNoContent {
		w.WriteHeader(resp.Status)
		return
	}
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		if _, err := w.Write(resp.Body); err != nil {
			d.logger.Debug("response write failed", "path", r.URL.Path, "error", err)
		}
	}
}

// requestParams merges the query string and, for POST, the body into one
// flat parameter set. Body values override query values; the first value
// of a repeated key wins.
func (d *Dispatcher) requestParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	params := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return params, nil
	}

	body, err := d.bodyParams(w, r)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		params[k] = v
	}
	return params, nil
}

func (d *Dispatcher) bodyParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, d.opts.MaxBodyBytes)

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("%w: content type: %v", ErrBadRequest, err)
		}
		mediaType = mt
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		return firstValues(r.PostForm), nil

	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(d.opts.MaxBodyBytes); err != nil {
			return nil, bodyError(err)
		}
		return firstValues(r.MultipartForm.Value), nil

	case mediaType == "", mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		return JSONParams(raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
}

// JSONParams flattens a JSON object into request parameters. Strings are
// taken verbatim, other scalars by their JSON text, nested objects and
// arrays as raw JSON. null members are treated as absent. An empty body
// yields no parameters.
func JSONParams(raw []byte) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", ErrBadRequest, err)
	}
	if members == nil {
		return map[string]string{}, nil
	}

	params := make(map[string]string, len(members))
	for k, v := range members {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("%w: member %q: %v", ErrBadRequest, k, err)
			}
			params[k] = s
		default:
			params[k] = string(v)
		}
	}
	return params, nil
}

func firstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %v", ErrBadRequest, err)
}

func (d *Dispatcher) requestID(r *http.Request) string {
	if d.opts.RequestID != nil {
		return d.opts.RequestID(r)
	}
	return r.Header.Get("X-Request-Id")
}
