package route

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DuplicatePathError reports functions that derive the same path.
type DuplicatePathError struct {
	Path    string
	Sources []Source
}

func (e *DuplicatePathError) Error() string {
	srcs := make([]string, len(e.Sources))
	for i, s := range e.Sources {
		srcs[i] = s.String()
	}
	return fmt.Sprintf("route: duplicate path %s (%s)", e.Path, strings.Join(srcs, ", "))
}

// FindDuplicates groups descriptors that share a path. The result is
// ordered by path.
func FindDuplicates(descs []*Descriptor) []*DuplicatePathError {
	byPath := make(map[string][]Source)
	for _, d := range descs {
		byPath[d.Path] = append(byPath[d.Path], d.Source)
	}

	var dups []*DuplicatePathError
	for path, srcs := range byPath {
		if len(srcs) > 1 {
			dups = append(dups, &DuplicatePathError{Path: path, Sources: srcs})
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].Path < dups[j].Path })
	return dups
}

// Table maps canonical paths to descriptors. A Table never changes after
// NewTable returns, so lookups need no locking.
type Table struct {
	routes map[string]*Descriptor
	sorted []*Descriptor
}

// NewTable builds a table. It fails without building anything if two
// descriptors share a path.
func NewTable(descs []*Descriptor) (*Table, error) {
	if dups := FindDuplicates(descs); len(dups) > 0 {
		errs := make([]error, len(dups))
		for i, d := range dups {
			errs[i] = d
		}
		return nil, errors.Join(errs...)
	}

	t := &Table{
		routes: make(map[string]*Descriptor, len(descs)),
		sorted: make([]*Descriptor, len(descs)),
	}
	for _, d := range descs {
		t.routes[d.Path] = d
	}
	copy(t.sorted, descs)
	sort.Slice(t.sorted, func(i, j int) bool { return t.sorted[i].Path < t.sorted[j].Path })
	return t, nil
}

// Lookup finds the route for an exact, case-sensitive path.
func (t *Table) Lookup(path string) (*Descriptor, bool) {
	if t == nil {
		return nil, false
	}
	d, ok := t.routes[path]
	return d, ok
}

// Routes returns all descriptors ordered by path.
func (t *Table) Routes() []*Descriptor {
	if t == nil {
		return nil
	}
	out := make([]*Descriptor, len(t.sorted))
	copy(out, t.sorted)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}
