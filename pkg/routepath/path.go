// Package routepath canonicalizes URL paths and builds route paths.
//
// Request paths are cleaned before they are looked up, so /api//Users/
// and /api/./Users both reach /api/Users. Route paths derived from the
// tree are built from segments that need no cleaning or escaping.
package routepath

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidPath matches every error of this package.
var ErrInvalidPath = errors.New("invalid path")

var (
	ErrBackslashInPath       = fmt.Errorf("%w: backslash", ErrInvalidPath)
	ErrNullByteInPath        = fmt.Errorf("%w: null byte", ErrInvalidPath)
	ErrInvalidPercentEscape  = fmt.Errorf("%w: malformed percent escape", ErrInvalidPath)
	ErrPathEscapesRoot       = fmt.Errorf("%w: .. above root", ErrInvalidPath)
	ErrEncodedSlashInSegment = fmt.Errorf("%w: encoded slash in segment", ErrInvalidPath)
	ErrInvalidSegment        = fmt.Errorf("%w: segment is not URL safe", ErrInvalidPath)
)

// Canonical is a cleaned request path.
type Canonical struct {
	// Path starts with "/" and has no empty, "." or ".." segments and no
	// trailing slash, except for the root "/".
	Path string

	// Query is the raw query string without "?". It is not cleaned.
	Query string

	// Changed reports whether cleaning altered the path.
	Changed bool
}

// String returns the path with its query, suitable for a Location header.
func (c Canonical) String() string {
	if c.Query == "" {
		return c.Path
	}
	return c.Path + "?" + c.Query
}

// Clean canonicalizes input, which may carry a query string. Backslashes,
// NUL bytes, malformed percent escapes and ".." segments that climb above
// the root are rejected; percent escapes are kept as they are.
func Clean(input string) (Canonical, error) {
	p, query, _ := strings.Cut(input, "?")
	if p == "" {
		return Canonical{Path: "/", Query: query, Changed: true}, nil
	}

	switch {
	case strings.ContainsRune(p, '\\'):
		return Canonical{}, ErrBackslashInPath
	case strings.ContainsRune(p, 0), strings.Contains(strings.ToUpper(p), "%00"):
		return Canonical{}, ErrNullByteInPath
	}
	if err := checkEscapes(p); err != nil {
		return Canonical{}, err
	}

	segs := make([]string, 0, strings.Count(p, "/"))
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) == 0 {
				return Canonical{}, ErrPathEscapesRoot
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}

	clean := Join(segs...)
	return Canonical{Path: clean, Query: query, Changed: clean != p}, nil
}

// checkEscapes requires every % to start a two-digit hex escape.
func checkEscapes(p string) error {
	for i := strings.IndexByte(p, '%'); i >= 0; {
		if i+2 >= len(p) || !isHex(p[i+1]) || !isHex(p[i+2]) {
			return ErrInvalidPercentEscape
		}
		next := strings.IndexByte(p[i+3:], '%')
		if next < 0 {
			break
		}
		i += 3 + next
	}
	return nil
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// ValidateSegment reports whether seg can appear verbatim as one segment
// of a route path: only unreserved URL characters, and not "." or "..".
func ValidateSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." {
		return ErrInvalidSegment
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
			continue
		}
		if !strings.ContainsRune("-_.~", rune(c)) {
			return ErrInvalidSegment
		}
	}
	return nil
}

// Join builds a route path from segments. Join() is "/".
func Join(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// Segments splits a canonical path and unescapes each segment. A segment
// that unescapes to contain "/" is rejected, since it would address a
// different directory than the one it names.
func Segments(p string) ([]string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil, nil
	}

	raw := strings.Split(p, "/")
	segs := make([]string, len(raw))
	for i, seg := range raw {
		s, err := url.PathUnescape(seg)
		if err != nil {
			return nil, ErrInvalidPercentEscape
		}
		if strings.Contains(s, "/") {
			return nil, ErrEncodedSlashInSegment
		}
		segs[i] = s
	}
	return segs, nil
}
